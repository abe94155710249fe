package block

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/blockvault/internal/crdt"
	"github.com/vonshlovens/blockvault/internal/order"
	"github.com/vonshlovens/blockvault/internal/watcher"
)

// Persister writes the serialized blocks of a page
type Persister interface {
	SavePage(ctx context.Context, pageID string, records []Record) error
}

// textEditor is implemented by documents that support local edits
type textEditor interface {
	SetText(field, text string) ([]byte, error)
}

// Options configures a Manager
type Options struct {
	Persister Persister
	Documents crdt.Factory
	Debounce  time.Duration
	Actor     string
	Logger    *slog.Logger
}

// Manager is the only writer of the block store. Mutations are local and
// schedule a debounced save of the affected pages.
type Manager struct {
	mu    sync.Mutex
	store *store

	persister Persister
	newDoc    crdt.Factory
	actor     string
	logger    *slog.Logger
	saver     *watcher.Debouncer

	saveMu  sync.Mutex
	saveErr error

	now   func() time.Time
	newID func() string
}

// NewManager creates a block manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	m := &Manager{
		store:     newStore(),
		persister: opts.Persister,
		newDoc:    opts.Documents,
		actor:     opts.Actor,
		logger:    opts.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	m.saver = watcher.NewDebouncer(opts.Debounce, m.save)
	return m
}

// CreateRequest describes a new block. ParentID empty means a root block of
// PageID; InsertAfter names the sibling to insert after, otherwise the block
// is appended.
type CreateRequest struct {
	Type        Type
	PageID      string
	ParentID    string
	Properties  Properties
	InsertAfter string
}

// CreateBlock creates a block and schedules a save of its page
func (m *Manager) CreateBlock(req CreateRequest) (*Block, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidProperties, req.Type)
	}
	if req.PageID == "" {
		return nil, fmt.Errorf("%w: page id is required", ErrInvalidProperties)
	}

	props := req.Properties
	if props == nil {
		props = Defaults(req.Type)
	}
	if props.Type() != req.Type {
		return nil, fmt.Errorf("%w: %s properties given for a %s block", ErrInvalidProperties, props.Type(), req.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ParentID != "" {
		parent, ok := m.store.get(req.ParentID)
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, ErrNotFound)
		}
		if parent.PageID != req.PageID {
			return nil, fmt.Errorf("%w: parent %s belongs to another page", ErrInvalidParent, req.ParentID)
		}
		if !parent.Type.Container() {
			return nil, fmt.Errorf("%w: %s blocks cannot have children", ErrInvalidParent, parent.Type)
		}
	}

	siblings := m.store.siblings(req.PageID, req.ParentID)
	idx := len(siblings)
	if req.InsertAfter != "" {
		i := order.IndexOf(siblings, req.InsertAfter)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s is not a sibling", ErrInvalidMove, req.InsertAfter)
		}
		idx = i + 1
	}

	now := m.now()
	b := &Block{
		ID:         m.newID(),
		Type:       req.Type,
		Properties: props,
		ParentID:   req.ParentID,
		PageID:     req.PageID,
		CreatedAt:  now,
		ModifiedAt: now,
		CreatedBy:  m.actor,
		ModifiedBy: m.actor,
	}
	m.bindContent(b)

	m.store.blocks[b.ID] = b
	if m.store.insertAt(b, idx) {
		m.logger.Debug("renumbered siblings", "page", b.PageID, "parent", b.ParentID)
	}

	m.scheduleSave(b.PageID)
	return b.clone(), nil
}

// EnsurePage gives a page without blocks its default empty paragraph
func (m *Manager) EnsurePage(pageID string) (*Block, error) {
	m.mu.Lock()
	roots := m.store.roots[pageID]
	m.mu.Unlock()

	if len(roots) > 0 {
		return m.GetBlock(roots[0])
	}
	return m.CreateBlock(CreateRequest{Type: TypeParagraph, PageID: pageID})
}

// UpdateBlock merges patch into the block's properties. When typeChange names
// a different type the properties are converted first. Nothing is applied if
// any part of the update is invalid.
func (m *Manager) UpdateBlock(id string, patch Patch, typeChange *Type) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	newType := b.Type
	props := b.Properties
	if typeChange != nil && *typeChange != b.Type {
		newType = *typeChange
		if !newType.Valid() {
			return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidPatch, newType)
		}
		if len(b.Children) > 0 && !newType.Container() {
			return nil, fmt.Errorf("%w: %s blocks cannot have children", ErrInvalidPatch, newType)
		}
		props = Convert(props, newType)
	}

	props, err := ApplyPatch(props, patch)
	if err != nil {
		return nil, err
	}

	oldText := b.Text()
	b.Type = newType
	b.Properties = props
	b.ModifiedAt = m.now()
	b.ModifiedBy = m.actor

	switch {
	case !newType.TextBearing():
		b.Content = nil
	case b.Content == nil:
		m.bindContent(b)
	case b.Text() != oldText:
		if ed, ok := b.Content.(textEditor); ok {
			if _, err := ed.SetText(crdt.ContentField, b.Text()); err != nil {
				m.logger.Warn("failed to update block document", "block", b.ID, "error", err)
			}
		}
	}

	m.scheduleSave(b.PageID)
	return b.clone(), nil
}

// ApplyContentUpdate applies a collaborative text update to the block's
// document and refreshes its text from the result
func (m *Manager) ApplyContentUpdate(id string, update []byte) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if b.Content == nil {
		return nil, fmt.Errorf("%w: %s blocks have no text document", ErrInvalidPatch, b.Type)
	}
	if err := b.Content.ApplyUpdate(update); err != nil {
		return nil, fmt.Errorf("failed to apply content update to %s: %w", id, err)
	}

	if text := b.Content.GetText(crdt.ContentField); text != b.Text() {
		b.Properties = WithText(b.Properties, Plain(text))
		b.ModifiedAt = m.now()
		b.ModifiedBy = m.actor
	}

	m.scheduleSave(b.PageID)
	return b.clone(), nil
}

// MoveRequest re-parents or reorders a block. TargetParentID empty means the
// root list of the target page. InsertAfter wins over InsertBefore; with
// neither the block is appended.
type MoveRequest struct {
	BlockID        string
	TargetParentID string
	TargetPageID   string
	InsertAfter    string
	InsertBefore   string
}

// MoveBlock moves a block and its descendants. Rejected moves leave the
// store unchanged.
func (m *Manager) MoveBlock(req MoveRequest) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(req.BlockID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.BlockID, ErrNotFound)
	}

	targetPage := req.TargetPageID
	if req.TargetParentID != "" {
		parent, ok := m.store.get(req.TargetParentID)
		if !ok {
			return nil, fmt.Errorf("target parent %s: %w", req.TargetParentID, ErrNotFound)
		}
		if targetPage != "" && parent.PageID != targetPage {
			return nil, fmt.Errorf("%w: target parent belongs to another page", ErrInvalidMove)
		}
		if m.store.isAncestor(b.ID, parent.ID) {
			return nil, ErrCycle
		}
		if !parent.Type.Container() {
			return nil, fmt.Errorf("%w: %s blocks cannot have children", ErrInvalidParent, parent.Type)
		}
		targetPage = parent.PageID
	}
	if targetPage == "" {
		targetPage = b.PageID
	}

	sameList := targetPage == b.PageID && req.TargetParentID == b.ParentID
	if b.ParentID == "" && !sameList && len(m.store.roots[b.PageID]) == 1 {
		return nil, ErrLastBlock
	}

	target := m.store.siblings(targetPage, req.TargetParentID)
	if sameList {
		target = order.Remove(target, b.ID)
	}

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

	oldPage := b.PageID
	m.store.detach(b)
	b.ParentID = req.TargetParentID
	if targetPage != oldPage {
		for _, id := range m.store.subtree(b.ID) {
			m.store.blocks[id].PageID = targetPage
		}
	}
	if m.store.insertAt(b, idx) {
		m.logger.Debug("renumbered siblings", "page", b.PageID, "parent", b.ParentID)
	}
	b.ModifiedAt = m.now()
	b.ModifiedBy = m.actor

	m.scheduleSave(oldPage)
	if targetPage != oldPage {
		m.scheduleSave(targetPage)
	}
	return b.clone(), nil
}

// DeleteBlock removes a block and all its descendants. The last root block of
// a page cannot be deleted.
func (m *Manager) DeleteBlock(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if b.ParentID == "" && len(m.store.roots[b.PageID]) == 1 {
		return ErrLastBlock
	}

	m.store.detach(b)
	for _, d := range m.store.subtree(id) {
		delete(m.store.blocks, d)
	}

	m.scheduleSave(b.PageID)
	return nil
}

// GetBlock returns a copy of the block
func (m *Manager) GetBlock(id string) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return b.clone(), nil
}

// GetPageBlocks returns copies of the page's root blocks sorted by order
func (m *Manager) GetPageBlocks(pageID string) []*Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(m.store.roots[pageID])
}

// GetChildren returns copies of the block's children sorted by order
func (m *Manager) GetChildren(id string) ([]*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return m.collect(b.Children), nil
}

// PageText returns the plain text of every block of the page in document
// order, one block per line
func (m *Manager) PageText(pageID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.store.pageBlocks(pageID)
	lines := make([]byte, 0, 64*len(ids))
	for i, id := range ids {
		if i > 0 {
			lines = append(lines, '\n')
		}
		lines = append(lines, m.store.blocks[id].Text()...)
	}
	return string(lines)
}

func (m *Manager) collect(ids []string) []*Block {
	out := make([]*Block, 0, len(ids))
	for _, id := range ids {
		if b, ok := m.store.get(id); ok {
			out = append(out, b.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// PageRecords serializes every block of the page, parents before children
func (m *Manager) PageRecords(pageID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageRecords(pageID)
}

func (m *Manager) pageRecords(pageID string) ([]Record, error) {
	ids := m.store.pageBlocks(pageID)
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		r, err := ToRecord(m.store.blocks[id])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// LoadPage replaces the page's blocks with records. The records must form a
// consistent tree; otherwise the store is left unchanged.
func (m *Manager) LoadPage(pageID string, records []Record) error {
	blocks := make(map[string]*Block, len(records))
	for _, r := range records {
		b, err := FromRecord(r, m.newDoc)
		if err != nil {
			return err
		}
		b.PageID = pageID
		if _, dup := blocks[b.ID]; dup {
			return fmt.Errorf("%w: duplicate block %s", ErrInvalidProperties, b.ID)
		}
		blocks[b.ID] = b
	}

	var roots []*Block
	for _, b := range blocks {
		if b.ParentID == "" {
			roots = append(roots, b)
			continue
		}
		parent, ok := blocks[b.ParentID]
		if !ok {
			return fmt.Errorf("%w: block %s references missing parent %s", ErrInvalidProperties, b.ID, b.ParentID)
		}
		if order.IndexOf(parent.Children, b.ID) < 0 {
			return fmt.Errorf("%w: block %s missing from parent %s", ErrInvalidProperties, b.ID, b.ParentID)
		}
	}
	for _, b := range blocks {
		for _, c := range b.Children {
			child, ok := blocks[c]
			if !ok || child.ParentID != b.ID {
				return fmt.Errorf("%w: block %s lists foreign child %s", ErrInvalidProperties, b.ID, c)
			}
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].Order < roots[j].Order })

	// every block must hang off a root
	reached := 0
	stack := make([]string, 0, len(roots))
	for _, r := range roots {
		stack = append(stack, r.ID)
	}
	for len(stack) > 0 && reached <= len(blocks) {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		stack = append(stack, blocks[id].Children...)
	}
	if reached != len(blocks) {
		return fmt.Errorf("%w: records for page %s do not form a tree", ErrInvalidProperties, pageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropPage(pageID)
	rootIDs := make([]string, len(roots))
	for i, b := range roots {
		rootIDs[i] = b.ID
	}
	for id, b := range blocks {
		m.store.blocks[id] = b
	}
	for _, b := range blocks {
		sort.SliceStable(b.Children, func(i, j int) bool {
			return blocks[b.Children[i]].Order < blocks[b.Children[j]].Order
		})
	}
	if len(rootIDs) > 0 {
		m.store.roots[pageID] = rootIDs
	}
	return nil
}

// PurgePage drops every block of the page without saving. Only hard page
// deletion uses it, so the last-block rule does not apply.
func (m *Manager) PurgePage(pageID string) {
	m.saver.Cancel(pageID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropPage(pageID)
}

func (m *Manager) dropPage(pageID string) {
	for _, id := range m.store.pageBlocks(pageID) {
		delete(m.store.blocks, id)
	}
	delete(m.store.roots, pageID)
}

// FlushSave runs pending saves now and waits for running ones. It returns the
// first save error since the previous flush.
func (m *Manager) FlushSave(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.saver.Flush()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	err := m.saveErr
	m.saveErr = nil
	return err
}

// Close flushes pending saves and stops the scheduler
func (m *Manager) Close(ctx context.Context) error {
	err := m.FlushSave(ctx)
	m.saver.Stop()
	return err
}

func (m *Manager) bindContent(b *Block) {
	if !b.Type.TextBearing() || m.newDoc == nil {
		return
	}
	doc := m.newDoc()
	if text := b.Text(); text != "" {
		if ed, ok := doc.(textEditor); ok {
			if _, err := ed.SetText(crdt.ContentField, text); err != nil {
				m.logger.Warn("failed to bind block document", "block", b.ID, "error", err)
			}
		}
	}
	b.Content = doc
}

func (m *Manager) scheduleSave(pageID string) {
	if m.persister != nil {
		m.saver.Trigger(pageID)
	}
}

// save is the debouncer handler
func (m *Manager) save(ev watcher.Event) {
	records, err := m.PageRecords(ev.Key)
	if err == nil {
		err = m.persister.SavePage(context.Background(), ev.Key, records)
	}
	if err == nil {
		return
	}

	m.logger.Error("failed to save page", "page", ev.Key, "error", err)
	m.saveMu.Lock()
	if m.saveErr == nil {
		m.saveErr = err
	}
	m.saveMu.Unlock()
}

// IsStructural reports whether err is a rejected structural change
func IsStructural(err error) bool {
	return errors.Is(err, ErrCycle) || errors.Is(err, ErrLastBlock) || errors.Is(err, ErrInvalidMove)
}
