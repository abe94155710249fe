package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/blockvault/internal/block"
	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/config"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/parser"
	"github.com/vonshlovens/blockvault/internal/share"
	"github.com/vonshlovens/blockvault/internal/sync"
)

const (
	alice = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
	bob   = "did:key:z6MkjchhfUsD6mmvni8mCdXHw216Xrm9bQe2mBH1P5RDjVJG"
)

// newTestApp opens a workspace in a temporary directory. Saves only happen
// on FlushSave.
func newTestApp(t *testing.T, remote cas.Store) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Identity.DID = alice
	cfg.Sync.DebounceMs = 3600 * 1000

	opts := Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if remote != nil {
		opts.Remote = remote
	}

	a, err := Open(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func setText(t *testing.T, a *App, pageID, text string) {
	t.Helper()
	blocks := a.Blocks.GetPageBlocks(pageID)
	require.NotEmpty(t, blocks)
	rt := block.Plain(text)
	_, err := a.Blocks.UpdateBlock(blocks[0].ID, block.Patch{Text: &rt}, nil)
	require.NoError(t, err)
}

func TestCreatePageStoresNote(t *testing.T) {
	ctx := context.Background()
	remote := cas.NewMemoryStore()
	a := newTestApp(t, remote)

	p, err := a.CreatePage(ctx, page.CreateRequest{Title: "Notes"})
	require.NoError(t, err)
	assert.Equal(t, Workspace, p.WorkspaceID)
	require.Len(t, a.Blocks.GetPageBlocks(p.ID), 1)

	require.NoError(t, a.Blocks.FlushSave(ctx))
	assert.Equal(t, 1, remote.Len())

	stored, err := a.Pages.GetPage(p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Metadata.StorageContentID)

	report, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, report.RemoteEnabled)
	assert.True(t, report.Online)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 1, report.Notes)
	assert.Zero(t, report.Unsynced)
	assert.Zero(t, report.Queued)
}

func TestReopenLoadsPages(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Sync.DebounceMs = 3600 * 1000
	opts := Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	a, err := Open(ctx, cfg, opts)
	require.NoError(t, err)
	p, err := a.CreatePage(ctx, page.CreateRequest{Title: "Journal"})
	require.NoError(t, err)
	setText(t, a, p.ID, "kept across restarts")
	require.NoError(t, a.Close(ctx))

	b, err := Open(ctx, cfg, opts)
	require.NoError(t, err)
	defer b.Close(ctx)

	found, err := b.FindPage("Journal")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	require.NoError(t, b.OpenPage(ctx, p.ID))
	assert.Equal(t, "kept across restarts", b.Blocks.PageText(p.ID))
}

func TestOfflineSaveIsQueued(t *testing.T) {
	ctx := context.Background()
	remote := cas.NewMemoryStore()
	remote.SetOffline(true)
	a := newTestApp(t, remote)
	assert.False(t, a.Hub.Online())

	_, err := a.CreatePage(ctx, page.CreateRequest{Title: "Offline"})
	require.NoError(t, err)
	require.NoError(t, a.Blocks.FlushSave(ctx))

	assert.Zero(t, remote.Len())
	require.Equal(t, 1, a.Queue.Len())
	assert.Equal(t, sync.OpSave, a.Queue.GetQueuedOperations()[0].Type)

	_, _, err = a.Sync.SyncNow(ctx)
	assert.ErrorIs(t, err, sync.ErrOffline)

	remote.SetOffline(false)
	processed, _, err := a.Sync.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed.Succeeded)
	assert.Zero(t, a.Queue.Len())
	assert.Equal(t, 1, remote.Len())
}

func TestSnapshotRestoreCompare(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	p, err := a.CreatePage(ctx, page.CreateRequest{Title: "Draft"})
	require.NoError(t, err)

	setText(t, a, p.ID, "first draft")
	v1, created, err := a.Snapshot(ctx, p.ID, "initial")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 1, v1.Version)

	_, created, err = a.Snapshot(ctx, p.ID, "")
	require.NoError(t, err)
	assert.False(t, created, "unchanged page must not produce a version")

	setText(t, a, p.ID, "second draft")
	v2, created, err := a.Snapshot(ctx, p.ID, "")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 2, v2.Version)

	cmp, err := a.CompareVersions(ctx, p.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.Summary.LinesAdded)
	assert.Equal(t, 1, cmp.Summary.LinesRemoved)
	assert.Contains(t, cmp.Unified, "-first draft")
	assert.Contains(t, cmp.Unified, "+second draft")

	restored, err := a.RestoreVersion(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Version)
	assert.Equal(t, "first draft", a.Blocks.PageText(p.ID))

	versions, err := a.Versions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, versions[0].ContentID, versions[2].ContentID)
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	target, err := a.CreatePage(ctx, page.CreateRequest{Title: "Notes"})
	require.NoError(t, err)

	dir := t.TempDir()
	content := `---
title: Trip
tags:
  - travel
favorite: true
---

# Plan

- pack
  - socks
- [ ] book hotel

[[Notes]]

[[Missing]]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trip.md"), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("not markdown"), 0o644))

	var progress []int
	ids, err := a.ImportDir(ctx, dir, func(done, total int) { progress = append(progress, done) })
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, []int{1}, progress)

	p, err := a.Pages.GetPage(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Trip", p.Title)
	assert.Contains(t, p.Metadata.Tags, "travel")
	assert.True(t, p.Metadata.Favorite)

	var refs []string
	for _, b := range a.Blocks.GetPageBlocks(p.ID) {
		if ref, ok := b.Properties.(block.PageReferenceProps); ok {
			refs = append(refs, ref.PageID)
		}
	}
	assert.Equal(t, []string{target.ID}, refs)

	out, err := a.ExportPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "title: Trip")
	assert.Contains(t, out, "# Plan\n")
	assert.Contains(t, out, "- pack\n  - socks\n- [ ] book hotel\n")
	assert.Contains(t, out, "\n[[Notes]]\n")
	assert.Contains(t, out, "\n[[Missing]]\n")

	// a second import of the same file updates the page in place
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trip.md"), []byte("# Plan\n\n- only this\n"), 0o644))
	again, err := a.ImportDir(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, again)
	assert.Len(t, a.ListPages(), 2)

	out, err = a.ExportPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "- only this\n")
	assert.NotContains(t, out, "socks")
}

func TestSharePageQueuesReplication(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, cas.NewMemoryStore())

	p, err := a.CreatePage(ctx, page.CreateRequest{Title: "Shared"})
	require.NoError(t, err)

	link, err := a.SharePage(ctx, share.CreateRequest{
		NoteID:    p.ID,
		Audience:  bob,
		Abilities: []share.Ability{share.AbilityRead},
	})
	require.NoError(t, err)

	stored, err := a.Pages.GetPage(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{link.URL}, stored.Metadata.ShareLinks)

	var shares []sync.Operation
	for _, op := range a.Queue.GetQueuedOperations() {
		if op.Type == sync.OpShare {
			shares = append(shares, op)
		}
	}
	require.Len(t, shares, 1)
	assert.Equal(t, p.ID, shares[0].NoteID)

	ok, err := a.Share.VerifyShareLink(ctx, link.URL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShareTrashedPage(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	p, err := a.CreatePage(ctx, page.CreateRequest{Title: "Gone"})
	require.NoError(t, err)
	_, err = a.DeletePage(ctx, p.ID)
	require.NoError(t, err)

	_, err = a.SharePage(ctx, share.CreateRequest{
		NoteID:    p.ID,
		Audience:  bob,
		Abilities: []share.Ability{share.AbilityRead},
	})
	assert.ErrorIs(t, err, page.ErrDeleted)
}

func TestTrashFlow(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	parent, err := a.CreatePage(ctx, page.CreateRequest{Title: "Parent"})
	require.NoError(t, err)
	child, err := a.CreatePage(ctx, page.CreateRequest{Title: "Child", ParentID: parent.ID})
	require.NoError(t, err)
	require.NoError(t, a.Blocks.FlushSave(ctx))

	entries := a.ListPages()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[1].Depth)

	trashed, err := a.DeletePage(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, trashed)
	assert.Empty(t, a.ListPages())

	_, err = a.RestorePage(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, a.ListPages(), 2)

	_, created, err := a.Snapshot(ctx, child.ID, "before purge")
	require.NoError(t, err)
	require.True(t, created)

	purged, err := a.PurgePage(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, purged)
	assert.Empty(t, a.Pages.All())

	// the version log goes with the page
	versions, err := a.History.GetVersionHistory(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	_, err = a.Local.Load(ctx, "versions/"+child.ID)
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	report, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Notes)
	assert.False(t, report.RemoteEnabled)
}

func TestMigrateWithoutRemote(t *testing.T) {
	a := newTestApp(t, nil)
	assert.ErrorIs(t, a.Migrate(context.Background()), sync.ErrRemoteDisabled)
}

func TestExportFileName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Meeting notes", "Meeting notes.md"},
		{"a/b: c?", "a-b- c-.md"},
		{"   ", "Untitled.md"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFileName(tt.title))
		})
	}
}

func TestImportDirResolvesLinksWithinBatch(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	dir := t.TempDir()
	// a.md sorts first but links to the page z.md creates
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("---\ntitle: Agenda\n---\n\n[[Zeta]]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.md"), []byte("---\ntitle: Zeta\n---\n\nbody\n"), 0o644))

	ids, err := a.ImportDir(ctx, dir, nil)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	zeta := a.pageByTitle("Zeta")
	require.NotNil(t, zeta)
	agenda := a.pageByTitle("Agenda")
	require.NotNil(t, agenda)

	var refs []string
	for _, b := range a.Blocks.GetPageBlocks(agenda.ID) {
		if ref, ok := b.Properties.(block.PageReferenceProps); ok {
			refs = append(refs, ref.PageID)
		}
	}
	assert.Equal(t, []string{zeta.ID}, refs)
}

func TestLinkOrder(t *testing.T) {
	pg := func(title string, links ...string) *parser.ParsedPage {
		return &parser.ParsedPage{Frontmatter: &parser.Frontmatter{Title: title}, OutgoingLinks: links}
	}

	tests := []struct {
		name  string
		pages []*parser.ParsedPage
		want  []int
	}{
		{"no links", []*parser.ParsedPage{pg("A"), pg("B")}, []int{0, 1}},
		{"target first", []*parser.ParsedPage{pg("A", "B"), pg("B")}, []int{1, 0}},
		{"chain", []*parser.ParsedPage{pg("A", "B"), pg("B", "C"), pg("C")}, []int{2, 1, 0}},
		{"cycle", []*parser.ParsedPage{pg("A", "B"), pg("B", "A")}, []int{1, 0}},
		{"self and outside links", []*parser.ParsedPage{pg("A", "A", "Elsewhere"), pg("B")}, []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, linkOrder(tt.pages))
		})
	}
}
