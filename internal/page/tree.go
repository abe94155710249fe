package page

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/blockvault/internal/order"
)

// Tree holds every page of every workspace
type Tree struct {
	mu    sync.RWMutex
	pages map[string]*Page
	roots map[string][]string
	dirty bool

	now   func() time.Time
	newID func() string
}

// NewTree creates an empty page tree
func NewTree() *Tree {
	return &Tree{
		pages: make(map[string]*Page),
		roots: make(map[string][]string),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// CreateRequest describes a new page. ParentID empty creates a workspace root
// page; InsertAfter names the sibling to insert after.
type CreateRequest struct {
	Title       string
	Type        Type
	Icon        string
	Cover       string
	ParentID    string
	WorkspaceID string
	InsertAfter string
	Tags        []string
}

// CreatePage adds a page
func (t *Tree) CreatePage(req CreateRequest) (*Page, error) {
	if req.Type == "" {
		req.Type = TypePage
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown page type %q", ErrInvalidPage, req.Type)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	workspace := req.WorkspaceID
	if req.ParentID != "" {
		parent, ok := t.pages[req.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, ErrNotFound)
		}
		if parent.Metadata.Deleted {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, ErrDeleted)
		}
		if workspace != "" && workspace != parent.WorkspaceID {
			return nil, fmt.Errorf("%w: parent belongs to another workspace", ErrInvalidPage)
		}
		workspace = parent.WorkspaceID
	}
	if workspace == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrInvalidPage)
	}

	siblings := t.siblings(workspace, req.ParentID)
	idx := len(siblings)
	if req.InsertAfter != "" {
		i := order.IndexOf(siblings, req.InsertAfter)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s is not a sibling", ErrInvalidMove, req.InsertAfter)
		}
		idx = i + 1
	}

	now := t.now()
	p := &Page{
		ID:          t.newID(),
		Title:       req.Title,
		Type:        req.Type,
		Icon:        req.Icon,
		Cover:       req.Cover,
		ParentID:    req.ParentID,
		WorkspaceID: workspace,
		Metadata: Metadata{
			CreatedAt:  now,
			ModifiedAt: now,
			Version:    1,
			Tags:       append([]string(nil), req.Tags...),
		},
	}
	t.pages[p.ID] = p
	t.insertAt(p, idx)
	t.dirty = true
	return p.clone(), nil
}

// GetPage returns a copy of the page, deleted or not
func (t *Tree) GetPage(id string) (*Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return p.clone(), nil
}

// Patch is a partial page update
type Patch struct {
	Title    *string
	Icon     *string
	Cover    *string
	Favorite *bool
	Type     *Type
	Tags     *[]string
}

// UpdatePage applies patch to the page
func (t *Tree) UpdatePage(id string, patch Patch) (*Page, error) {
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown page type %q", ErrInvalidPage, *patch.Type)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if p.Metadata.Deleted {
		return nil, fmt.Errorf("%s: %w", id, ErrDeleted)
	}

	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Icon != nil {
		p.Icon = *patch.Icon
	}
	if patch.Cover != nil {
		p.Cover = *patch.Cover
	}
	if patch.Favorite != nil {
		p.Metadata.Favorite = *patch.Favorite
	}
	if patch.Type != nil {
		p.Type = *patch.Type
	}
	if patch.Tags != nil {
		p.Metadata.Tags = append([]string(nil), (*patch.Tags)...)
	}
	p.Metadata.ModifiedAt = t.now()
	t.dirty = true
	return p.clone(), nil
}

// MoveRequest re-parents or reorders a page. TargetParentID empty means the
// workspace root. InsertAfter wins over InsertBefore.
type MoveRequest struct {
	PageID         string
	TargetParentID string
	InsertAfter    string
	InsertBefore   string
}

// MovePage moves a page with its subtree. The cycle check runs before any
// change is made.
func (t *Tree) MovePage(req MoveRequest) (*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[req.PageID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.PageID, ErrNotFound)
	}
	if p.Metadata.Deleted {
		return nil, fmt.Errorf("%s: %w", req.PageID, ErrDeleted)
	}

	if req.TargetParentID != "" {
		parent, ok := t.pages[req.TargetParentID]
		if !ok {
			return nil, fmt.Errorf("target parent %s: %w", req.TargetParentID, ErrNotFound)
		}
		if parent.WorkspaceID != p.WorkspaceID {
			return nil, fmt.Errorf("%w: target parent belongs to another workspace", ErrInvalidMove)
		}
		if parent.Metadata.Deleted {
			return nil, fmt.Errorf("target parent %s: %w", req.TargetParentID, ErrDeleted)
		}
		if t.isAncestor(p.ID, parent.ID) {
			return nil, ErrCycle
		}
	}

	target := order.Remove(t.siblings(p.WorkspaceID, req.TargetParentID), p.ID)
	idx := len(target)
	switch {
	case req.InsertAfter != "":
		i := order.IndexOf(target, req.InsertAfter)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s is not a sibling at the target", ErrInvalidMove, req.InsertAfter)
		}
		idx = i + 1
	case req.InsertBefore != "":
		i := order.IndexOf(target, req.InsertBefore)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s is not a sibling at the target", ErrInvalidMove, req.InsertBefore)
		}
		idx = i
	}

	t.detach(p)
	p.ParentID = req.TargetParentID
	t.insertAt(p, idx)
	p.Metadata.ModifiedAt = t.now()
	t.dirty = true
	return p.clone(), nil
}

// Children returns the live child pages of parentID in order
func (t *Tree) Children(parentID string) ([]*Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.pages[parentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", parentID, ErrNotFound)
	}
	return t.collect(p.ChildPages), nil
}

// RootPages returns the live root pages of a workspace in order
func (t *Tree) RootPages(workspaceID string) []*Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collect(t.roots[workspaceID])
}

// All returns every page, deleted ones included, sorted by id
func (t *Tree) All() []*Page {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ancestors returns the breadcrumb of a page, root first, excluding the page
func (t *Tree) Ancestors(id string) ([]*Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	var chain []*Page
	seen := map[string]bool{id: true}
	for cur := p.ParentID; cur != ""; {
		if seen[cur] {
			return nil, ErrCycle
		}
		seen[cur] = true
		parent, ok := t.pages[cur]
		if !ok {
			break
		}
		chain = append(chain, parent.clone())
		cur = parent.ParentID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Favorites returns the live favorite pages of a workspace, by title
func (t *Tree) Favorites(workspaceID string) []*Page {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Page
	for _, p := range t.pages {
		if p.WorkspaceID == workspaceID && p.Metadata.Favorite && !p.Metadata.Deleted {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SoftDelete moves a page and its subtree to the trash and returns the ids
// flagged
func (t *Tree) SoftDelete(id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if p.Metadata.Deleted {
		return nil, fmt.Errorf("%s: %w", id, ErrDeleted)
	}

	now := t.now()
	var flagged []string
	for _, sid := range t.subtree(id) {
		sp := t.pages[sid]
		if sp.Metadata.Deleted {
			continue
		}
		at := now
		sp.Metadata.Deleted = true
		sp.Metadata.DeletedAt = &at
		sp.Metadata.ModifiedAt = now
		flagged = append(flagged, sid)
	}
	t.dirty = true
	return flagged, nil
}

// Restore brings a page and its subtree back from the trash. A page whose
// parent is still deleted is re-attached at the end of the workspace root.
func (t *Tree) Restore(id string) (*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !p.Metadata.Deleted {
		return p.clone(), nil
	}

	if p.ParentID != "" {
		if parent, ok := t.pages[p.ParentID]; !ok || parent.Metadata.Deleted {
			t.detach(p)
			p.ParentID = ""
			t.insertAt(p, len(t.roots[p.WorkspaceID]))
		}
	}

	now := t.now()
	for _, sid := range t.subtree(id) {
		sp := t.pages[sid]
		sp.Metadata.Deleted = false
		sp.Metadata.DeletedAt = nil
		sp.Metadata.ModifiedAt = now
	}
	t.dirty = true
	return p.clone(), nil
}

// Purge permanently removes a page and its subtree and returns the removed ids
func (t *Tree) Purge(id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	removed := t.subtree(id)
	t.detach(p)
	for _, sid := range removed {
		delete(t.pages, sid)
	}
	t.dirty = true
	return removed, nil
}

// PurgeExpired purges trashed pages deleted longer than retention ago and
// returns every removed id
func (t *Tree) PurgeExpired(retention time.Duration) []string {
	t.mu.RLock()
	cutoff := t.now().Add(-retention)
	var expired []string
	for _, p := range t.pages {
		if p.Metadata.Deleted && p.Metadata.DeletedAt != nil && p.Metadata.DeletedAt.Before(cutoff) {
			expired = append(expired, p.ID)
		}
	}
	t.mu.RUnlock()
	sort.Strings(expired)

	var removed []string
	for _, id := range expired {
		ids, err := t.Purge(id)
		if err != nil {
			// already removed with an expired ancestor
			continue
		}
		removed = append(removed, ids...)
	}
	return removed
}

// Trash returns the deleted pages of a workspace whose parent is not itself
// deleted, most recently deleted first
func (t *Tree) Trash(workspaceID string) []*Page {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Page
	for _, p := range t.pages {
		if p.WorkspaceID != workspaceID || !p.Metadata.Deleted {
			continue
		}
		if parent, ok := t.pages[p.ParentID]; ok && parent.Metadata.Deleted {
			continue
		}
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := deletedAt(out[i]), deletedAt(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func deletedAt(p *Page) time.Time {
	if p.Metadata.DeletedAt == nil {
		return time.Time{}
	}
	return *p.Metadata.DeletedAt
}

// SetStorageContentID records where the page's latest content was replicated
func (t *Tree) SetStorageContentID(id, contentID string) error {
	return t.mutate(id, func(p *Page) {
		p.Metadata.StorageContentID = contentID
	})
}

// AddShareLink records a share link; duplicates are ignored
func (t *Tree) AddShareLink(id, link string) error {
	return t.mutate(id, func(p *Page) {
		if order.IndexOf(p.Metadata.ShareLinks, link) < 0 {
			p.Metadata.ShareLinks = append(p.Metadata.ShareLinks, link)
		}
	})
}

// BumpVersion increments and returns the page's content version
func (t *Tree) BumpVersion(id string) (int, error) {
	var v int
	err := t.mutate(id, func(p *Page) {
		p.Metadata.Version++
		p.Metadata.ModifiedAt = t.now()
		v = p.Metadata.Version
	})
	return v, err
}

func (t *Tree) mutate(id string, fn func(*Page)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pages[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	fn(p)
	t.dirty = true
	return nil
}

type snapshot struct {
	Pages []*Page             `json:"pages"`
	Roots map[string][]string `json:"roots"`
}

// Snapshot serializes the tree and clears the dirty flag
func (t *Tree) Snapshot() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := snapshot{Roots: t.roots}
	for _, p := range t.pages {
		s.Pages = append(s.Pages, p)
	}
	sort.Slice(s.Pages, func(i, j int) bool { return s.Pages[i].ID < s.Pages[j].ID })

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page tree: %w", err)
	}
	t.dirty = false
	return data, nil
}

// Load replaces the tree with a snapshot
func (t *Tree) Load(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse page tree: %w", err)
	}

	pages := make(map[string]*Page, len(s.Pages))
	for _, p := range s.Pages {
		pages[p.ID] = p
	}
	if s.Roots == nil {
		s.Roots = make(map[string][]string)
	}
	if err := validateSnapshot(pages, s.Roots); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages = pages
	t.roots = s.Roots
	t.dirty = false
	return nil
}

// validateSnapshot checks that parent links and sibling lists agree and that
// every page is reachable from a workspace root exactly once
func validateSnapshot(pages map[string]*Page, roots map[string][]string) error {
	for _, p := range pages {
		if p.ParentID == "" {
			if order.IndexOf(roots[p.WorkspaceID], p.ID) < 0 {
				return fmt.Errorf("%w: root page %s missing from workspace %s", ErrInvalidPage, p.ID, p.WorkspaceID)
			}
			continue
		}
		parent, ok := pages[p.ParentID]
		if !ok {
			return fmt.Errorf("%w: page %s references missing parent %s", ErrInvalidPage, p.ID, p.ParentID)
		}
		if order.IndexOf(parent.ChildPages, p.ID) < 0 {
			return fmt.Errorf("%w: page %s missing from parent %s", ErrInvalidPage, p.ID, p.ParentID)
		}
	}
	for _, p := range pages {
		for _, c := range p.ChildPages {
			child, ok := pages[c]
			if !ok || child.ParentID != p.ID {
				return fmt.Errorf("%w: page %s lists foreign child %s", ErrInvalidPage, p.ID, c)
			}
		}
	}
	for ws, ids := range roots {
		for _, id := range ids {
			p, ok := pages[id]
			if !ok || p.ParentID != "" || p.WorkspaceID != ws {
				return fmt.Errorf("%w: workspace %s lists foreign root %s", ErrInvalidPage, ws, id)
			}
		}
	}

	// parent cycles are unreachable from any root
	seen := make(map[string]bool, len(pages))
	var stack []string
	for _, ids := range roots {
		stack = append(stack, ids...)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			return fmt.Errorf("%w: page %s is listed twice", ErrInvalidPage, id)
		}
		seen[id] = true
		stack = append(stack, pages[id].ChildPages...)
	}
	if len(seen) != len(pages) {
		return fmt.Errorf("%w: page tree contains a cycle", ErrInvalidPage)
	}
	return nil
}

// Dirty reports whether the tree changed since the last Snapshot or Load
func (t *Tree) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

func (t *Tree) siblings(workspaceID, parentID string) []string {
	if parentID == "" {
		return t.roots[workspaceID]
	}
	if p, ok := t.pages[parentID]; ok {
		return p.ChildPages
	}
	return nil
}

func (t *Tree) setSiblings(workspaceID, parentID string, ids []string) {
	if parentID == "" {
		t.roots[workspaceID] = ids
		return
	}
	if p, ok := t.pages[parentID]; ok {
		p.ChildPages = ids
	}
}

// insertAt links p at idx of its sibling list and assigns its order key,
// renumbering the list when the gap is exhausted
func (t *Tree) insertAt(p *Page, idx int) {
	ids := t.siblings(p.WorkspaceID, p.ParentID)
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = t.pages[id].Order
	}

	ids = order.Insert(ids, idx, p.ID)
	t.setSiblings(p.WorkspaceID, p.ParentID, ids)

	if key, ok := order.Place(keys, idx); ok {
		p.Order = key
		return
	}
	for i, key := range order.Renumber(len(ids)) {
		t.pages[ids[i]].Order = key
	}
}

func (t *Tree) detach(p *Page) {
	ids := t.siblings(p.WorkspaceID, p.ParentID)
	t.setSiblings(p.WorkspaceID, p.ParentID, order.Remove(ids, p.ID))
}

// isAncestor reports whether ancestorID is id or one of its ancestors
func (t *Tree) isAncestor(ancestorID, id string) bool {
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if cur == ancestorID || seen[cur] {
			return true
		}
		seen[cur] = true
		p, ok := t.pages[cur]
		if !ok {
			return false
		}
		cur = p.ParentID
	}
	return false
}

func (t *Tree) subtree(id string) []string {
	var out []string
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p, ok := t.pages[cur]
		if !ok {
			continue
		}
		out = append(out, cur)
		for i := len(p.ChildPages) - 1; i >= 0; i-- {
			stack = append(stack, p.ChildPages[i])
		}
	}
	return out
}

// collect returns copies of the live pages among ids, sorted by order
func (t *Tree) collect(ids []string) []*Page {
	out := make([]*Page, 0, len(ids))
	for _, id := range ids {
		p, ok := t.pages[id]
		if !ok || p.Metadata.Deleted {
			continue
		}
		out = append(out, p.clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
