package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vonshlovens/blockvault/internal/block"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/parser"
	"github.com/vonshlovens/blockvault/internal/watcher"
)

// ExportPage renders a page as a markdown document
func (a *App) ExportPage(ctx context.Context, pageID string) (string, error) {
	p, err := a.Pages.GetPage(pageID)
	if err != nil {
		return "", err
	}
	nodes, err := a.pageNodes(ctx, pageID)
	if err != nil {
		return "", err
	}

	created, modified := p.Metadata.CreatedAt, p.Metadata.ModifiedAt
	fm := &parser.Frontmatter{
		Title:    p.Title,
		Icon:     p.Icon,
		Cover:    p.Cover,
		Tags:     p.Metadata.Tags,
		Favorite: p.Metadata.Favorite,
		Created:  &created,
		Modified: &modified,
	}
	return parser.Render(fm, nodes, a.pageTitle)
}

// ExportFileName returns a file name for a page title
func ExportFileName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "Untitled"
	}
	return name + ".md"
}

// imports maps imported file keys to page ids
type imports map[string]string

func (a *App) loadImports(ctx context.Context) (imports, error) {
	entry, err := a.Local.Load(ctx, importsKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return imports{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := imports{}
	if err := json.Unmarshal(entry.Data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse import index: %w", err)
	}
	return m, nil
}

func (a *App) saveImports(ctx context.Context, m imports) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = a.Local.Save(ctx, localstore.KindIndex, importsKey, data)
	return err
}

// ImportFile creates a page from a markdown file, or replaces the blocks of
// the page a previous import of the same file created. key identifies the
// file across imports; the absolute path is used when it is empty.
func (a *App) ImportFile(ctx context.Context, path, key, parentID string) (*page.Page, error) {
	parsed, err := parser.NewParser().ParseFile(path)
	if err != nil {
		return nil, err
	}
	return a.importParsed(ctx, parsed, path, key, parentID)
}

func (a *App) importParsed(ctx context.Context, parsed *parser.ParsedPage, path, key, parentID string) (*page.Page, error) {
	var err error
	if key == "" {
		if key, err = filepath.Abs(path); err != nil {
			return nil, err
		}
	}

	index, err := a.loadImports(ctx)
	if err != nil {
		return nil, err
	}

	fm := parsed.Frontmatter
	tags := parsed.Tags()
	var p *page.Page
	if id, ok := index[key]; ok {
		if existing, err := a.Pages.GetPage(id); err == nil && !existing.Metadata.Deleted {
			p, err = a.Pages.UpdatePage(id, page.Patch{
				Title:    &fm.Title,
				Icon:     &fm.Icon,
				Cover:    &fm.Cover,
				Favorite: &fm.Favorite,
				Tags:     &tags,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if p == nil {
		p, err = a.Pages.CreatePage(page.CreateRequest{
			Title:       fm.Title,
			Icon:        fm.Icon,
			Cover:       fm.Cover,
			ParentID:    parentID,
			WorkspaceID: Workspace,
			Tags:        tags,
		})
		if err != nil {
			return nil, err
		}
		if fm.Favorite {
			if p, err = a.Pages.UpdatePage(p.ID, page.Patch{Favorite: &fm.Favorite}); err != nil {
				return nil, err
			}
		}
		index[key] = p.ID
		if err := a.saveImports(ctx, index); err != nil {
			return nil, err
		}
	}

	if err := a.replaceBlocks(ctx, p.ID, parsed.Blocks); err != nil {
		return nil, err
	}
	if err := a.saveTree(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("page imported", "path", path, "page", p.ID, "blocks", len(parsed.Blocks))
	return p, nil
}

// replaceBlocks swaps the content of a page for nodes
func (a *App) replaceBlocks(ctx context.Context, pageID string, nodes []*parser.Node) error {
	if err := a.OpenPage(ctx, pageID); err != nil {
		return err
	}
	if err := a.Blocks.LoadPage(pageID, nil); err != nil {
		return err
	}
	if err := a.createBlocks(pageID, "", nodes); err != nil {
		return err
	}
	_, err := a.Blocks.EnsurePage(pageID)
	return err
}

func (a *App) createBlocks(pageID, parentID string, nodes []*parser.Node) error {
	for _, n := range nodes {
		t, props := n.Type, n.Properties
		if t == block.TypePageReference && n.Ref != "" {
			if target := a.pageByTitle(n.Ref); target != nil {
				props = block.PageReferenceProps{PageID: target.ID}
			} else {
				t = block.TypeParagraph
				props = block.ParagraphProps{Text: block.Plain("[[" + n.Ref + "]]")}
			}
		}

		b, err := a.Blocks.CreateBlock(block.CreateRequest{
			Type:       t,
			PageID:     pageID,
			ParentID:   parentID,
			Properties: props,
		})
		if err != nil {
			return err
		}
		if err := a.createBlocks(pageID, b.ID, n.Children); err != nil {
			return err
		}
	}
	return nil
}

// ImportDir imports every markdown file under dir that passes the import
// patterns. Pages are created after the pages of the same batch they link
// to, so their page references resolve. progress, when set, is called after
// each file. Files that fail are reported in the returned error and do not
// stop the others.
func (a *App) ImportDir(ctx context.Context, dir string, progress func(done, total int)) ([]string, error) {
	w, err := watcher.NewWatcher(dir, a.Config.Sync.Debounce(), a.Config.Import.IgnorePatterns, a.Config.Import.IncludePatterns)
	if err != nil {
		return nil, err
	}
	defer w.Stop()

	paths, err := w.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var errs []error
	done := 0
	report := func() {
		done++
		if progress != nil {
			progress(done, len(paths))
		}
	}

	p := parser.NewParser()
	var rels []string
	var parsed []*parser.ParsedPage
	for _, rel := range paths {
		pp, err := p.ParseFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			report()
			continue
		}
		rels = append(rels, rel)
		parsed = append(parsed, pp)
	}

	var imported []string
	for _, i := range linkOrder(parsed) {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		pg, err := a.importParsed(ctx, parsed[i], filepath.Join(dir, filepath.FromSlash(rels[i])), rels[i], "")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rels[i], err))
		} else {
			imported = append(imported, pg.ID)
		}
		report()
	}
	return imported, errors.Join(errs...)
}

// linkOrder returns the indexes of pages ordered so that every page comes
// after the pages of the batch its links point to. Links inside a cycle keep
// scan order.
func linkOrder(pages []*parser.ParsedPage) []int {
	byTitle := make(map[string]int, len(pages))
	for i, p := range pages {
		if _, dup := byTitle[p.Frontmatter.Title]; !dup {
			byTitle[p.Frontmatter.Title] = i
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(pages))
	out := make([]int, 0, len(pages))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		for _, link := range pages[i].OutgoingLinks {
			if j, ok := byTitle[link]; ok {
				visit(j)
			}
		}
		state[i] = visited
		out = append(out, i)
	}
	for i := range pages {
		visit(i)
	}
	return out
}

// WatchImports imports files from the configured import directory as they
// change, until ctx is done. Deleted files move their page to the trash.
func (a *App) WatchImports(ctx context.Context) error {
	dir := a.Config.Import.Dir
	if dir == "" {
		<-ctx.Done()
		return nil
	}

	w, err := watcher.NewWatcher(dir, a.Config.Sync.Debounce(), a.Config.Import.IgnorePatterns, a.Config.Import.IncludePatterns)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	if _, err := a.ImportDir(ctx, dir, nil); err != nil {
		a.logger.Warn("initial import incomplete", "dir", dir, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			a.handleImportEvent(ctx, dir, ev)
		}
	}
}

func (a *App) handleImportEvent(ctx context.Context, dir string, ev watcher.Event) {
	path := filepath.Join(dir, filepath.FromSlash(ev.Key))
	switch {
	case (ev.Type == watcher.EventDelete || ev.Type == watcher.EventRename) && !fileExists(path):
		index, err := a.loadImports(ctx)
		if err != nil {
			a.logger.Warn("failed to read import index", "error", err)
			return
		}
		id, ok := index[ev.Key]
		if !ok {
			return
		}
		if _, err := a.DeletePage(ctx, id); err != nil && !errors.Is(err, page.ErrDeleted) {
			a.logger.Warn("failed to trash imported page", "path", ev.Key, "error", err)
		}
	default:
		if _, err := a.ImportFile(ctx, path, ev.Key, ""); err != nil {
			a.logger.Warn("failed to import file", "path", ev.Key, "error", err)
		}
	}
}
