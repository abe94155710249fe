package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/crdt"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/note"
)

func snapshotOf(t *testing.T, text string) []byte {
	t.Helper()
	doc := crdt.NewTextDoc()
	_, err := doc.SetText(crdt.ContentField, text)
	require.NoError(t, err)
	return doc.EncodeStateAsUpdate()
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Options{
		Blobs:          cas.NewMemoryStore(),
		Index:          NewMemoryIndex(),
		MajorEditLines: 3,
	})
}

func versionNumbers(entries []note.VersionEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Version
	}
	return out
}

func TestRestoreAppendsNewVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	v1 := snapshotOf(t, "first draft")
	for _, s := range [][]byte{v1, snapshotOf(t, "second draft"), snapshotOf(t, "third draft")} {
		_, err := e.CreateVersion(ctx, "N", s, "")
		require.NoError(t, err)
	}

	history, err := e.GetVersionHistory(ctx, "N")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versionNumbers(history))

	restored, err := e.RestoreVersion(ctx, "N", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, restored.Entry.Version)
	assert.Equal(t, note.ChangeRestore, restored.Entry.ChangeType)
	assert.Equal(t, "Restored from version 1", restored.Entry.ChangeDescription)

	history, err = e.GetVersionHistory(ctx, "N")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, versionNumbers(history))

	got, err := e.GetVersion(ctx, "N", 4)
	require.NoError(t, err)
	assert.Equal(t, v1, got.Data)
	assert.Equal(t, "first draft", got.Text)
	assert.Equal(t, history[0].ContentID, history[3].ContentID)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	texts := []string{"a", "a\nb", "a\nb\nc", "x"}
	for _, text := range texts {
		_, err := e.CreateVersion(ctx, "N", snapshotOf(t, text), "")
		require.NoError(t, err)
	}

	before, err := e.GetVersionHistory(ctx, "N")
	require.NoError(t, err)

	for _, v := range []int{2, 1, 5, 3} {
		_, err := e.RestoreVersion(ctx, "N", v)
		require.NoError(t, err)

		after, err := e.GetVersionHistory(ctx, "N")
		require.NoError(t, err)
		require.Len(t, after, len(before)+1)
		assert.Equal(t, before, after[:len(before)])
		for i, entry := range after {
			assert.Equal(t, i+1, entry.Version)
		}
		before = after
	}
}

func TestRestoreMissingVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.CreateVersion(ctx, "N", snapshotOf(t, "a"), "")
	require.NoError(t, err)

	_, err = e.RestoreVersion(ctx, "N", 7)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	history, err := e.GetVersionHistory(ctx, "N")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetVersionMissingIsNil(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	got, err := e.GetVersion(ctx, "unknown", 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = e.CreateVersion(ctx, "N", snapshotOf(t, "a"), "")
	require.NoError(t, err)

	got, err = e.GetVersion(ctx, "N", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChangeTypeClassification(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	first, err := e.CreateVersion(ctx, "N", snapshotOf(t, "one"), "")
	require.NoError(t, err)
	assert.Equal(t, note.ChangeCreate, first.ChangeType)
	assert.Equal(t, 1, first.LinesAdded)

	minor, err := e.CreateVersion(ctx, "N", snapshotOf(t, "one\ntwo"), "")
	require.NoError(t, err)
	assert.Equal(t, note.ChangeMinorEdit, minor.ChangeType)
	assert.Equal(t, 1, minor.LinesAdded)
	assert.Equal(t, "+1 lines", minor.ChangeDescription)

	major, err := e.CreateVersion(ctx, "N", snapshotOf(t, "alpha\nbeta\ngamma\ndelta"), "rewrite", "draft")
	require.NoError(t, err)
	assert.Equal(t, note.ChangeMajorEdit, major.ChangeType)
	assert.Equal(t, "rewrite", major.ChangeDescription)
	assert.Equal(t, []string{"draft"}, major.Tags)
}

func TestCreateVersionIfChanged(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	s := snapshotOf(t, "stable")
	_, created, err := e.CreateVersionIfChanged(ctx, "N", s, "")
	require.NoError(t, err)
	assert.True(t, created)

	entry, created, err := e.CreateVersionIfChanged(ctx, "N", s, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, entry.Version)

	_, created, err = e.CreateVersionIfChanged(ctx, "N", snapshotOf(t, "changed"), "")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.CreateVersion(ctx, "N", snapshotOf(t, "a\nb\nc"), "")
	require.NoError(t, err)
	_, err = e.CreateVersion(ctx, "N", snapshotOf(t, "a\nB\nc"), "")
	require.NoError(t, err)

	cmp, err := e.Compare(ctx, "N", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.Summary.LinesModified)
	assert.True(t, strings.Contains(cmp.Unified, "+B"))

	got, err := Apply("a\nb\nc", cmp.Lines)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc", got)

	_, err = e.Compare(ctx, "N", 1, 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestOnVersionHook(t *testing.T) {
	ctx := context.Background()
	var seen []int
	e := NewEngine(Options{
		Blobs: cas.NewMemoryStore(),
		Index: NewMemoryIndex(),
		OnVersion: func(noteID string, entry note.VersionEntry) {
			seen = append(seen, entry.Version)
		},
	})

	_, err := e.CreateVersion(ctx, "N", snapshotOf(t, "a"), "")
	require.NoError(t, err)
	_, err = e.RestoreVersion(ctx, "N", 1)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, seen)
}

func TestStoreIndexPersists(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer store.Close()

	e := NewEngine(Options{Blobs: store, Index: NewStoreIndex(store)})
	_, err = e.CreateVersion(ctx, "N", snapshotOf(t, "persisted"), "")
	require.NoError(t, err)

	reopened := NewEngine(Options{Blobs: store, Index: NewStoreIndex(store)})
	got, err := reopened.GetVersion(ctx, "N", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "persisted", got.Text)
}

func TestDeleteHistory(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer store.Close()

	e := NewEngine(Options{Blobs: store, Index: NewStoreIndex(store)})
	_, err = e.CreateVersion(ctx, "N", snapshotOf(t, "gone soon"), "")
	require.NoError(t, err)
	_, err = e.CreateVersion(ctx, "M", snapshotOf(t, "kept"), "")
	require.NoError(t, err)

	require.NoError(t, e.DeleteHistory(ctx, "N"))

	entries, err := e.GetVersionHistory(ctx, "N")
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = store.Load(ctx, indexKey("N"))
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	kept, err := e.GetVersionHistory(ctx, "M")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	// a new log starts again at version 1
	entry, err := e.CreateVersion(ctx, "N", snapshotOf(t, "again"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)
}
