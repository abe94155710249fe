// Package page manages the page hierarchy of every workspace: nesting,
// sibling order, soft deletion with a trash and hard purge.
package page

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown page ids
	ErrNotFound = errors.New("page not found")

	// ErrCycle is returned when a move would make a page its own ancestor
	ErrCycle = errors.New("page cannot be its own ancestor")

	// ErrInvalidMove is returned for moves with unknown or inconsistent targets
	ErrInvalidMove = errors.New("invalid page move")

	// ErrDeleted is returned when mutating a page that is in the trash
	ErrDeleted = errors.New("page is deleted")

	// ErrInvalidPage is returned for malformed create or update requests
	ErrInvalidPage = errors.New("invalid page")
)

// Type is the presentation kind of a page
type Type string

const (
	TypePage     Type = "page"
	TypeDatabase Type = "database"
	TypeKanban   Type = "kanban"
	TypeCalendar Type = "calendar"
	TypeGallery  Type = "gallery"
)

// Valid reports whether t is a known page type
func (t Type) Valid() bool {
	switch t {
	case TypePage, TypeDatabase, TypeKanban, TypeCalendar, TypeGallery:
		return true
	}
	return false
}

// Metadata is the bookkeeping carried by every page
type Metadata struct {
	CreatedAt        time.Time  `json:"createdAt"`
	ModifiedAt       time.Time  `json:"modifiedAt"`
	Version          int        `json:"version"`
	StorageContentID string     `json:"storageContentId,omitempty"`
	ShareLinks       []string   `json:"shareLinks,omitempty"`
	Deleted          bool       `json:"deleted,omitempty"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	Favorite         bool       `json:"favorite,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
}

// Page is a titled container of blocks. Its root blocks are owned by the
// block manager; ChildPages lists nested pages in order.
type Page struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Type        Type     `json:"type"`
	Icon        string   `json:"icon,omitempty"`
	Cover       string   `json:"cover,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
	WorkspaceID string   `json:"workspaceId"`
	ChildPages  []string `json:"childPages"`
	Order       int64    `json:"order"`
	Metadata    Metadata `json:"metadata"`
}

func (p *Page) clone() *Page {
	c := *p
	c.ChildPages = append([]string(nil), p.ChildPages...)
	c.Metadata.ShareLinks = append([]string(nil), p.Metadata.ShareLinks...)
	c.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	if p.Metadata.DeletedAt != nil {
		at := *p.Metadata.DeletedAt
		c.Metadata.DeletedAt = &at
	}
	return &c
}
