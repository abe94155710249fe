package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vonshlovens/blockvault/internal/block"
	"github.com/vonshlovens/blockvault/internal/history"
	"github.com/vonshlovens/blockvault/internal/note"
	"github.com/vonshlovens/blockvault/internal/parser"
)

// snapshotBytes encodes the blocks of a page as a version snapshot. Only
// the content goes in, so unchanged pages produce identical snapshots.
func snapshotBytes(pageID string, records []block.Record) ([]byte, error) {
	data, err := block.EncodeRecords(records)
	if err != nil {
		return nil, err
	}
	return note.Marshal(&note.Note{NoteID: pageID, CRDTUpdate: data})
}

func decodeSnapshot(data []byte) ([]block.Record, error) {
	n, err := note.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return block.DecodeRecords(n.CRDTUpdate)
}

// snapshotText renders a snapshot as markdown for line diffs
func (a *App) snapshotText(data []byte) (string, error) {
	records, err := decodeSnapshot(data)
	if err != nil {
		return "", err
	}
	nodes, err := recordsToNodes(records)
	if err != nil {
		return "", err
	}
	return parser.RenderBlocks(nodes, a.pageTitle), nil
}

// Snapshot records a version of the page unless it equals the latest one
func (a *App) Snapshot(ctx context.Context, pageID, description string) (*note.VersionEntry, bool, error) {
	if err := a.OpenPage(ctx, pageID); err != nil {
		return nil, false, err
	}
	records, err := a.Blocks.PageRecords(pageID)
	if err != nil {
		return nil, false, err
	}
	data, err := snapshotBytes(pageID, records)
	if err != nil {
		return nil, false, err
	}

	entry, created, err := a.History.CreateVersionIfChanged(ctx, pageID, data, description)
	if err != nil || !created {
		return entry, false, err
	}
	if _, err := a.Pages.BumpVersion(pageID); err != nil {
		return entry, true, err
	}
	return entry, true, a.saveTree(ctx)
}

// SnapshotAll snapshots every live page and returns how many versions were
// recorded
func (a *App) SnapshotAll(ctx context.Context, description string) (int, error) {
	var errs []error
	created := 0
	for _, p := range a.Pages.All() {
		if p.Metadata.Deleted {
			continue
		}
		_, ok, err := a.Snapshot(ctx, p.ID, description)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", p.ID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}

// Versions returns the version log of a page, oldest first
func (a *App) Versions(ctx context.Context, pageID string) ([]note.VersionEntry, error) {
	if _, err := a.Pages.GetPage(pageID); err != nil {
		return nil, err
	}
	return a.History.GetVersionHistory(ctx, pageID)
}

// RestoreVersion replaces the page's blocks with those of version and
// records the restore as a new version
func (a *App) RestoreVersion(ctx context.Context, pageID string, version int) (*note.VersionEntry, error) {
	if err := a.OpenPage(ctx, pageID); err != nil {
		return nil, err
	}

	snap, err := a.History.RestoreVersion(ctx, pageID, version)
	if err != nil {
		return nil, err
	}
	records, err := decodeSnapshot(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("version %d of %s: %w", version, pageID, err)
	}
	if err := a.Blocks.LoadPage(pageID, records); err != nil {
		return nil, fmt.Errorf("version %d of %s: %w", version, pageID, err)
	}
	if _, err := a.Blocks.EnsurePage(pageID); err != nil {
		return nil, err
	}

	current, err := a.Blocks.PageRecords(pageID)
	if err != nil {
		return nil, err
	}
	if err := a.SavePage(ctx, pageID, current); err != nil {
		return nil, err
	}
	if _, err := a.Pages.BumpVersion(pageID); err != nil {
		return nil, err
	}

	entries, err := a.History.GetVersionHistory(ctx, pageID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	last := entries[len(entries)-1]
	a.logger.Info("page restored", "page", pageID, "from", version, "version", last.Version)
	return &last, a.saveTree(ctx)
}

// CompareVersions diffs two versions of a page
func (a *App) CompareVersions(ctx context.Context, pageID string, from, to int) (*history.Comparison, error) {
	if _, err := a.Pages.GetPage(pageID); err != nil {
		return nil, err
	}
	return a.History.Compare(ctx, pageID, from, to)
}
