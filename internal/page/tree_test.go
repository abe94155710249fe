package page

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titles(pages []*Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Title
	}
	return out
}

func mustCreate(t *testing.T, tree *Tree, req CreateRequest) *Page {
	t.Helper()
	if req.WorkspaceID == "" && req.ParentID == "" {
		req.WorkspaceID = "ws"
	}
	p, err := tree.CreatePage(req)
	require.NoError(t, err)
	return p
}

func TestCreatePage(t *testing.T) {
	tree := NewTree()

	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	b := mustCreate(t, tree, CreateRequest{Title: "B"})
	c := mustCreate(t, tree, CreateRequest{Title: "C", InsertAfter: a.ID})
	child := mustCreate(t, tree, CreateRequest{Title: "child", ParentID: b.ID})

	assert.Equal(t, TypePage, a.Type)
	assert.Equal(t, 1, a.Metadata.Version)
	assert.Equal(t, "ws", child.WorkspaceID)
	assert.Equal(t, []string{"A", "C", "B"}, titles(tree.RootPages("ws")))

	kids, err := tree.Children(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"child"}, titles(kids))
	assert.Less(t, a.Order, c.Order)

	_, err = tree.CreatePage(CreateRequest{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidPage)
	_, err = tree.CreatePage(CreateRequest{Title: "x", WorkspaceID: "ws", Type: "wiki"})
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestMovePage(t *testing.T) {
	tree := NewTree()

	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	b := mustCreate(t, tree, CreateRequest{Title: "B"})
	c := mustCreate(t, tree, CreateRequest{Title: "C"})

	_, err := tree.MovePage(MoveRequest{PageID: c.ID, InsertBefore: a.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(tree.RootPages("ws")))

	_, err = tree.MovePage(MoveRequest{PageID: a.ID, TargetParentID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B"}, titles(tree.RootPages("ws")))

	crumbs, err := tree.Ancestors(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, titles(crumbs))
}

func TestMovePageRejectsCycle(t *testing.T) {
	tree := NewTree()

	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	b := mustCreate(t, tree, CreateRequest{Title: "B", ParentID: a.ID})
	c := mustCreate(t, tree, CreateRequest{Title: "C", ParentID: b.ID})

	_, err := tree.MovePage(MoveRequest{PageID: a.ID, TargetParentID: c.ID})
	assert.ErrorIs(t, err, ErrCycle)

	_, err = tree.MovePage(MoveRequest{PageID: a.ID, TargetParentID: a.ID})
	assert.ErrorIs(t, err, ErrCycle)

	got, _ := tree.GetPage(a.ID)
	assert.Equal(t, "", got.ParentID)
	assert.Equal(t, []string{b.ID}, got.ChildPages)

	crumbs, err := tree.Ancestors(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(crumbs))
}

func TestMovePageOrderInvariant(t *testing.T) {
	tree := NewTree()
	var pages []*Page
	for i := 0; i < 8; i++ {
		pages = append(pages, mustCreate(t, tree, CreateRequest{Title: string(rune('a' + i))}))
	}

	for i := 0; i < 40; i++ {
		src := pages[(i*5)%len(pages)]
		anchor := pages[(i*3+2)%len(pages)]
		if src.ID == anchor.ID {
			continue
		}
		_, err := tree.MovePage(MoveRequest{PageID: src.ID, InsertAfter: anchor.ID})
		require.NoError(t, err)

		roots := tree.RootPages("ws")
		require.Len(t, roots, len(pages))
		for j := 1; j < len(roots); j++ {
			assert.Less(t, roots[j-1].Order, roots[j].Order)
		}
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	tree := NewTree()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tree.now = func() time.Time { return base }

	parent := mustCreate(t, tree, CreateRequest{Title: "parent"})
	child := mustCreate(t, tree, CreateRequest{Title: "child", ParentID: parent.ID})

	flagged, err := tree.SoftDelete(parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, flagged)
	assert.Empty(t, tree.RootPages("ws"))

	trash := tree.Trash("ws")
	require.Len(t, trash, 1, "descendants of a trashed page are not listed separately")
	assert.Equal(t, parent.ID, trash[0].ID)

	_, err = tree.UpdatePage(child.ID, Patch{})
	assert.ErrorIs(t, err, ErrDeleted)

	// Restoring only the child re-attaches it at the workspace root
	restored, err := tree.Restore(child.ID)
	require.NoError(t, err)
	assert.Equal(t, "", restored.ParentID)
	assert.Equal(t, []string{"child"}, titles(tree.RootPages("ws")))

	_, err = tree.Restore(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "child"}, titles(tree.RootPages("ws")))
}

func TestPurgeAndPurgeExpired(t *testing.T) {
	tree := NewTree()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tree.now = func() time.Time { return now }

	old := mustCreate(t, tree, CreateRequest{Title: "old"})
	oldChild := mustCreate(t, tree, CreateRequest{Title: "old child", ParentID: old.ID})
	recent := mustCreate(t, tree, CreateRequest{Title: "recent"})
	keep := mustCreate(t, tree, CreateRequest{Title: "keep"})

	_, err := tree.SoftDelete(old.ID)
	require.NoError(t, err)

	now = now.Add(29 * 24 * time.Hour)
	_, err = tree.SoftDelete(recent.ID)
	require.NoError(t, err)

	now = now.Add(2 * 24 * time.Hour)
	removed := tree.PurgeExpired(30 * 24 * time.Hour)
	assert.ElementsMatch(t, []string{old.ID, oldChild.ID}, removed)

	_, err = tree.GetPage(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tree.GetPage(recent.ID)
	assert.NoError(t, err)

	removed, err = tree.Purge(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, removed)
	assert.Empty(t, tree.RootPages("ws"))
}

func TestFavoritesAndMetadata(t *testing.T) {
	tree := NewTree()
	b := mustCreate(t, tree, CreateRequest{Title: "B"})
	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	mustCreate(t, tree, CreateRequest{Title: "C"})

	fav := true
	_, err := tree.UpdatePage(b.ID, Patch{Favorite: &fav})
	require.NoError(t, err)
	_, err = tree.UpdatePage(a.ID, Patch{Favorite: &fav})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(tree.Favorites("ws")))

	require.NoError(t, tree.SetStorageContentID(a.ID, "cid"))
	require.NoError(t, tree.AddShareLink(a.ID, "blockvault://x"))
	require.NoError(t, tree.AddShareLink(a.ID, "blockvault://x"))
	v, err := tree.BumpVersion(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, _ := tree.GetPage(a.ID)
	assert.Equal(t, "cid", got.Metadata.StorageContentID)
	assert.Equal(t, []string{"blockvault://x"}, got.Metadata.ShareLinks)

	assert.ErrorIs(t, tree.SetStorageContentID("missing", "x"), ErrNotFound)
}

func TestSnapshotLoad(t *testing.T) {
	tree := NewTree()
	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	mustCreate(t, tree, CreateRequest{Title: "A1", ParentID: a.ID})
	mustCreate(t, tree, CreateRequest{Title: "B"})
	assert.True(t, tree.Dirty())

	data, err := tree.Snapshot()
	require.NoError(t, err)
	assert.False(t, tree.Dirty())

	loaded := NewTree()
	require.NoError(t, loaded.Load(data))
	assert.Equal(t, []string{"A", "B"}, titles(loaded.RootPages("ws")))

	kids, err := loaded.Children(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, titles(kids))

	assert.Error(t, loaded.Load([]byte(`{"pages":[{"id":"x","parentId":"gone"}]}`)))
}

func TestLoadRejectsInconsistentSnapshots(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "parent cycle",
			data: `{"pages":[
				{"id":"A","parentId":"B","workspaceId":"ws","childPages":["B"]},
				{"id":"B","parentId":"A","workspaceId":"ws","childPages":["A"]}],
				"roots":{}}`,
		},
		{
			name: "self parent",
			data: `{"pages":[{"id":"A","parentId":"A","workspaceId":"ws","childPages":["A"]}],"roots":{}}`,
		},
		{
			name: "child missing from parent list",
			data: `{"pages":[
				{"id":"A","workspaceId":"ws","childPages":[]},
				{"id":"B","parentId":"A","workspaceId":"ws","childPages":[]}],
				"roots":{"ws":["A"]}}`,
		},
		{
			name: "foreign child",
			data: `{"pages":[
				{"id":"A","workspaceId":"ws","childPages":["B"]},
				{"id":"B","workspaceId":"ws","childPages":[]}],
				"roots":{"ws":["A","B"]}}`,
		},
		{
			name: "root not listed",
			data: `{"pages":[{"id":"A","workspaceId":"ws","childPages":[]}],"roots":{}}`,
		},
		{
			name: "root listed twice",
			data: `{"pages":[{"id":"A","workspaceId":"ws","childPages":[]}],"roots":{"ws":["A","A"]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			keep := mustCreate(t, tree, CreateRequest{Title: "Keep"})

			err := tree.Load([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidPage)

			// a rejected snapshot leaves the tree usable
			flagged, err := tree.SoftDelete(keep.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{keep.ID}, flagged)
		})
	}
}

func TestLoadKeepsTrashedPages(t *testing.T) {
	tree := NewTree()
	a := mustCreate(t, tree, CreateRequest{Title: "A"})
	a1 := mustCreate(t, tree, CreateRequest{Title: "A1", ParentID: a.ID})
	_, err := tree.SoftDelete(a1.ID)
	require.NoError(t, err)

	data, err := tree.Snapshot()
	require.NoError(t, err)

	loaded := NewTree()
	require.NoError(t, loaded.Load(data))
	assert.Equal(t, []string{"A1"}, titles(loaded.Trash("ws")))
}
