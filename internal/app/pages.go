package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vonshlovens/blockvault/internal/block"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/note"
	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/parser"
)

// SavePage stores the blocks of a page as a note. It is the block
// manager's persister, called after the save debounce.
func (a *App) SavePage(ctx context.Context, pageID string, records []block.Record) error {
	data, err := block.EncodeRecords(records)
	if err != nil {
		return err
	}

	now := a.now()
	n := &note.Note{
		NoteID:     pageID,
		CRDTUpdate: data,
		Metadata:   note.Metadata{Created: now, Modified: now},
	}
	if p, err := a.Pages.GetPage(pageID); err == nil {
		n.Metadata.Created = p.Metadata.CreatedAt
		n.Metadata.Version = p.Metadata.Version
		n.Metadata.ShareLinks = p.Metadata.ShareLinks
	}
	if entries, err := a.History.GetVersionHistory(ctx, pageID); err == nil {
		n.VersionHistory = entries
	}

	res, err := a.Hybrid.StoreNote(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to store page %s: %w", pageID, err)
	}
	if res.ContentID != "" {
		if err := a.Pages.SetStorageContentID(pageID, res.ContentID); err == nil {
			return a.saveTree(ctx)
		}
	}
	return nil
}

func (a *App) loadTree(ctx context.Context) error {
	entry, err := a.Local.Load(ctx, treeKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return a.Pages.Load(entry.Data)
}

// saveTree persists the page tree when it changed
func (a *App) saveTree(ctx context.Context) error {
	if !a.Pages.Dirty() {
		return nil
	}
	data, err := a.Pages.Snapshot()
	if err != nil {
		return err
	}
	if _, err := a.Local.Save(ctx, localstore.KindTree, treeKey, data); err != nil {
		return fmt.Errorf("failed to save page tree: %w", err)
	}
	return nil
}

// OpenPage makes sure the blocks of a page are loaded into the block
// manager. A page without stored blocks gets its default paragraph.
func (a *App) OpenPage(ctx context.Context, pageID string) error {
	if _, err := a.Pages.GetPage(pageID); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded[pageID] {
		return nil
	}

	n, err := a.Hybrid.RetrieveNote(ctx, pageID, "")
	switch {
	case errors.Is(err, localstore.ErrNotFound):
	case err != nil:
		return err
	default:
		records, err := block.DecodeRecords(n.CRDTUpdate)
		if err != nil {
			return fmt.Errorf("page %s: %w", pageID, err)
		}
		if err := a.Blocks.LoadPage(pageID, records); err != nil {
			return fmt.Errorf("page %s: %w", pageID, err)
		}
	}

	if _, err := a.Blocks.EnsurePage(pageID); err != nil {
		return err
	}
	a.loaded[pageID] = true
	return nil
}

// CreatePage adds a page with its default empty paragraph
func (a *App) CreatePage(ctx context.Context, req page.CreateRequest) (*page.Page, error) {
	if req.WorkspaceID == "" {
		req.WorkspaceID = Workspace
	}
	p, err := a.Pages.CreatePage(req)
	if err != nil {
		return nil, err
	}
	if err := a.saveTree(ctx); err != nil {
		return nil, err
	}
	if err := a.OpenPage(ctx, p.ID); err != nil {
		return nil, err
	}
	a.logger.Info("page created", "page", p.ID, "title", p.Title)
	return p, nil
}

// DeletePage moves a page and its subpages to the trash
func (a *App) DeletePage(ctx context.Context, pageID string) ([]string, error) {
	ids, err := a.Pages.SoftDelete(pageID)
	if err != nil {
		return nil, err
	}
	return ids, a.saveTree(ctx)
}

// RestorePage brings a page back from the trash
func (a *App) RestorePage(ctx context.Context, pageID string) (*page.Page, error) {
	p, err := a.Pages.Restore(pageID)
	if err != nil {
		return nil, err
	}
	return p, a.saveTree(ctx)
}

// PurgePage permanently removes a page, its subpages and their stored notes
func (a *App) PurgePage(ctx context.Context, pageID string) ([]string, error) {
	ids, err := a.Pages.Purge(pageID)
	if err != nil {
		return nil, err
	}
	return ids, a.purgeNotes(ctx, ids)
}

// PurgeExpired empties the trash of pages older than the retention period
func (a *App) PurgeExpired(ctx context.Context) ([]string, error) {
	ids := a.Pages.PurgeExpired(a.Config.Trash.Retention())
	if len(ids) == 0 {
		return nil, nil
	}
	a.logger.Info("trash emptied", "pages", len(ids))
	return ids, a.purgeNotes(ctx, ids)
}

func (a *App) purgeNotes(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		a.Blocks.PurgePage(id)
		a.mu.Lock()
		delete(a.loaded, id)
		a.mu.Unlock()
		if err := a.Hybrid.DeleteNote(ctx, id); err != nil {
			errs = append(errs, err)
		}
		if err := a.History.DeleteHistory(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.saveTree(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ListPages returns the live pages in tree order with their depth
func (a *App) ListPages() []PageEntry {
	var out []PageEntry
	var walk func(pages []*page.Page, depth int)
	walk = func(pages []*page.Page, depth int) {
		for _, p := range pages {
			if p.Metadata.Deleted {
				continue
			}
			out = append(out, PageEntry{Page: p, Depth: depth})
			children, err := a.Pages.Children(p.ID)
			if err == nil {
				walk(children, depth+1)
			}
		}
	}
	walk(a.Pages.RootPages(Workspace), 0)
	return out
}

// PageEntry is a page with its nesting depth
type PageEntry struct {
	Page  *page.Page
	Depth int
}

// FindPage resolves a page by id or, failing that, by exact title
func (a *App) FindPage(ref string) (*page.Page, error) {
	if p, err := a.Pages.GetPage(ref); err == nil {
		return p, nil
	}
	if p := a.pageByTitle(ref); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%s: %w", ref, page.ErrNotFound)
}

// pageByTitle returns the oldest live page with title
func (a *App) pageByTitle(title string) *page.Page {
	var match *page.Page
	for _, p := range a.Pages.All() {
		if p.Title != title || p.Metadata.Deleted {
			continue
		}
		if match == nil || p.Metadata.CreatedAt.Before(match.Metadata.CreatedAt) {
			match = p
		}
	}
	return match
}

func (a *App) pageTitle(pageID string) string {
	p, err := a.Pages.GetPage(pageID)
	if err != nil {
		return ""
	}
	return p.Title
}

// pageNodes returns the current blocks of a loaded page as a tree
func (a *App) pageNodes(ctx context.Context, pageID string) ([]*parser.Node, error) {
	if err := a.OpenPage(ctx, pageID); err != nil {
		return nil, err
	}
	records, err := a.Blocks.PageRecords(pageID)
	if err != nil {
		return nil, err
	}
	return recordsToNodes(records)
}

// recordsToNodes rebuilds the block tree of a page from its records
func recordsToNodes(records []block.Record) ([]*parser.Node, error) {
	byID := make(map[string]block.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	var build func(r block.Record) (*parser.Node, error)
	build = func(r block.Record) (*parser.Node, error) {
		props, err := block.UnmarshalProperties(r.Type, r.Properties)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", r.ID, err)
		}
		n := &parser.Node{Type: r.Type, Properties: props}
		for _, id := range r.Children {
			child, ok := byID[id]
			if !ok {
				continue
			}
			c, err := build(child)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		}
		return n, nil
	}

	var roots []block.Record
	for _, r := range records {
		if r.ParentID == "" {
			roots = append(roots, r)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].Order < roots[j].Order })

	nodes := make([]*parser.Node, 0, len(roots))
	for _, r := range roots {
		n, err := build(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
