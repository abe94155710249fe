package app

import (
	"context"
	"fmt"

	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/share"
)

// SharePage delegates access to a live page and records the link on it
func (a *App) SharePage(ctx context.Context, req share.CreateRequest) (*share.Link, error) {
	p, err := a.Pages.GetPage(req.NoteID)
	if err != nil {
		return nil, err
	}
	if p.Metadata.Deleted {
		return nil, fmt.Errorf("%s: %w", p.ID, page.ErrDeleted)
	}

	link, err := a.Share.CreateDelegation(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := a.Pages.AddShareLink(p.ID, link.URL); err != nil {
		return nil, err
	}
	return link, a.saveTree(ctx)
}
