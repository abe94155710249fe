// Package history keeps an append-only log of snapshots per note and computes
// text diffs between any two of them.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/crdt"
	"github.com/vonshlovens/blockvault/internal/note"
)

// ErrVersionNotFound is returned when restoring or comparing a missing version
var ErrVersionNotFound = errors.New("version not found")

// Index persists the version log of each note
type Index interface {
	Entries(ctx context.Context, noteID string) ([]note.VersionEntry, error)
	SetEntries(ctx context.Context, noteID string, entries []note.VersionEntry) error
	DeleteEntries(ctx context.Context, noteID string) error
}

// TextExtractor returns the plain text of a stored snapshot
type TextExtractor func(snapshot []byte) (string, error)

// CRDTText extracts the content field of a collaborative document update
func CRDTText(snapshot []byte) (string, error) {
	return crdt.TextOf(snapshot, crdt.ContentField)
}

// Options configures an Engine
type Options struct {
	Blobs          cas.Store
	Index          Index
	Extract        TextExtractor
	MajorEditLines int
	// OnVersion is called after a version has been recorded
	OnVersion func(noteID string, entry note.VersionEntry)
	Logger    *slog.Logger
}

// Engine records and compares versions
type Engine struct {
	mu         sync.Mutex
	blobs      cas.Store
	index      Index
	extract    TextExtractor
	majorLines int
	onVersion  func(string, note.VersionEntry)
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a version history engine
func NewEngine(opts Options) *Engine {
	if opts.Extract == nil {
		opts.Extract = CRDTText
	}
	if opts.MajorEditLines <= 0 {
		opts.MajorEditLines = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		blobs:      opts.Blobs,
		index:      opts.Index,
		extract:    opts.Extract,
		majorLines: opts.MajorEditLines,
		onVersion:  opts.OnVersion,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Snapshot is a version entry with its stored content
type Snapshot struct {
	Entry note.VersionEntry
	Data  []byte
	Text  string
}

// CreateVersion appends a version holding snapshot
func (e *Engine) CreateVersion(ctx context.Context, noteID string, snapshot []byte, description string, tags ...string) (*note.VersionEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.append(ctx, noteID, snapshot, description, "", tags)
}

// CreateVersionIfChanged appends a version unless snapshot equals the latest
// one. created reports whether a version was added.
func (e *Engine) CreateVersionIfChanged(ctx context.Context, noteID string, snapshot []byte, description string) (entry *note.VersionEntry, created bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.index.Entries(ctx, noteID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read history of %s: %w", noteID, err)
	}
	if n := len(entries); n > 0 && entries[n-1].ContentID == cas.ContentID(snapshot) {
		last := entries[n-1]
		return &last, false, nil
	}

	entry, err = e.append(ctx, noteID, snapshot, description, "", nil)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// append must be called with e.mu held. A non-empty forced change type
// overrides classification.
func (e *Engine) append(ctx context.Context, noteID string, snapshot []byte, description string, forced note.ChangeType, tags []string) (*note.VersionEntry, error) {
	entries, err := e.index.Entries(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", noteID, err)
	}

	text, err := e.extract(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text of %s: %w", noteID, err)
	}

	var summary Summary
	if n := len(entries); n > 0 {
		prev, err := e.load(ctx, entries[n-1])
		if err != nil {
			return nil, err
		}
		summary = Summarize(DiffLines(prev.Text, text))
	} else {
		summary.LinesAdded = len(splitLines(text))
	}

	contentID, err := e.blobs.Put(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot of %s: %w", noteID, err)
	}

	changeType := forced
	switch {
	case changeType != "":
	case len(entries) == 0:
		changeType = note.ChangeCreate
	case summary.LinesAdded+summary.LinesRemoved >= e.majorLines:
		changeType = note.ChangeMajorEdit
	default:
		changeType = note.ChangeMinorEdit
	}

	entry := note.VersionEntry{
		Version:           len(entries) + 1,
		Timestamp:         e.now().UTC(),
		ContentID:         contentID,
		ChangeDescription: description,
		LinesAdded:        summary.LinesAdded,
		LinesRemoved:      summary.LinesRemoved,
		ChangeType:        changeType,
		Tags:              append([]string(nil), tags...),
	}
	if entry.ChangeDescription == "" {
		entry.ChangeDescription = describe(entry)
	}

	if err := e.index.SetEntries(ctx, noteID, append(entries, entry)); err != nil {
		return nil, fmt.Errorf("failed to record version %d of %s: %w", entry.Version, noteID, err)
	}

	e.logger.Debug("version created",
		"note", noteID,
		"version", entry.Version,
		"change", entry.ChangeType,
		"added", entry.LinesAdded,
		"removed", entry.LinesRemoved)

	if e.onVersion != nil {
		e.onVersion(noteID, entry)
	}
	return &entry, nil
}

func describe(entry note.VersionEntry) string {
	switch entry.ChangeType {
	case note.ChangeCreate:
		return "Created"
	case note.ChangeRestore:
		return "Restored"
	}
	var parts []string
	if entry.LinesAdded > 0 {
		parts = append(parts, fmt.Sprintf("+%d", entry.LinesAdded))
	}
	if entry.LinesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("-%d", entry.LinesRemoved))
	}
	if len(parts) == 0 {
		return "No text changes"
	}
	return strings.Join(parts, " ") + " lines"
}

// GetVersionHistory returns all versions of a note ordered by version number
func (e *Engine) GetVersionHistory(ctx context.Context, noteID string) ([]note.VersionEntry, error) {
	entries, err := e.index.Entries(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", noteID, err)
	}
	return entries, nil
}

// DeleteHistory drops the version log of a note. Snapshots stay in the
// content store, where other notes may share them.
func (e *Engine) DeleteHistory(ctx context.Context, noteID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.DeleteEntries(ctx, noteID); err != nil {
		return fmt.Errorf("failed to delete history of %s: %w", noteID, err)
	}
	return nil
}

// GetVersion returns the stored snapshot of a version, or nil when the
// version does not exist
func (e *Engine) GetVersion(ctx context.Context, noteID string, version int) (*Snapshot, error) {
	entries, err := e.index.Entries(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", noteID, err)
	}
	if version < 1 || version > len(entries) {
		return nil, nil
	}
	return e.load(ctx, entries[version-1])
}

func (e *Engine) load(ctx context.Context, entry note.VersionEntry) (*Snapshot, error) {
	data, err := e.blobs.Get(ctx, entry.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %d: %w", entry.Version, err)
	}
	text, err := e.extract(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text of version %d: %w", entry.Version, err)
	}
	return &Snapshot{Entry: entry, Data: data, Text: text}, nil
}

// RestoreVersion appends a new version whose content equals the given one.
// Earlier entries are never modified.
func (e *Engine) RestoreVersion(ctx context.Context, noteID string, version int) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.index.Entries(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", noteID, err)
	}
	if version < 1 || version > len(entries) {
		return nil, fmt.Errorf("%s version %d: %w", noteID, version, ErrVersionNotFound)
	}

	target, err := e.load(ctx, entries[version-1])
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("Restored from version %d", version)
	entry, err := e.append(ctx, noteID, target.Data, desc, note.ChangeRestore, []string{"restore"})
	if err != nil {
		return nil, err
	}
	return &Snapshot{Entry: *entry, Data: target.Data, Text: target.Text}, nil
}

// Comparison is the difference between two versions
type Comparison struct {
	From    note.VersionEntry
	To      note.VersionEntry
	Lines   []Run
	Words   []Run
	Summary Summary
	// Unified is the rendered unified diff
	Unified string
}

// Compare diffs version from against version to
func (e *Engine) Compare(ctx context.Context, noteID string, from, to int) (*Comparison, error) {
	a, err := e.GetVersion(ctx, noteID, from)
	if err != nil {
		return nil, err
	}
	b, err := e.GetVersion(ctx, noteID, to)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("%s versions %d..%d: %w", noteID, from, to, ErrVersionNotFound)
	}

	lines := DiffLines(a.Text, b.Text)
	unified, err := Unified(a.Text, b.Text, fmt.Sprintf("v%d", from), fmt.Sprintf("v%d", to), 3)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		From:    a.Entry,
		To:      b.Entry,
		Lines:   lines,
		Words:   DiffWords(a.Text, b.Text),
		Summary: Summarize(lines),
		Unified: unified,
	}, nil
}
