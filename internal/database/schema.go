// Package database implements structured databases: a typed schema, rows
// stored content-addressed, and views evaluated with filters, sorts and
// grouping over a denormalized row index.
package database

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("database not found")
	ErrRowNotFound     = errors.New("row not found")
	ErrUnknownProperty = errors.New("unknown property")
	ErrTypeMismatch    = errors.New("value type does not match property type")
	ErrInvalidValue    = errors.New("invalid property value")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidSchema   = errors.New("invalid schema")
)

// SelectOption is one choice of a select or multi-select property
type SelectOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// PropertyDef declares one column of a database
type PropertyDef struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    PropertyType   `json:"type"`
	Options []SelectOption `json:"options,omitempty"`
}

// option finds a select option by id or, failing that, by name
func (p *PropertyDef) option(key string) (int, bool) {
	for i, o := range p.Options {
		if o.ID == key {
			return i, true
		}
	}
	for i, o := range p.Options {
		if o.Name == key {
			return i, true
		}
	}
	return -1, false
}

// ViewType is the presentation of a view
type ViewType string

const (
	ViewTable    ViewType = "table"
	ViewBoard    ViewType = "board"
	ViewCalendar ViewType = "calendar"
	ViewGallery  ViewType = "gallery"
)

// SortDirection orders a sort rule
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// SortRule sorts rows by one property
type SortRule struct {
	Property  string        `json:"property"`
	Direction SortDirection `json:"direction"`
}

// View is a saved query over a database
type View struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    ViewType   `json:"type"`
	Filter  *Filter    `json:"filter,omitempty"`
	Sorts   []SortRule `json:"sorts,omitempty"`
	GroupBy string     `json:"groupBy,omitempty"`
	// DateProperty drives calendar views
	DateProperty string `json:"dateProperty,omitempty"`
}

// Schema is the set of properties and views of a database
type Schema struct {
	Properties []PropertyDef `json:"properties"`
	Views      []View        `json:"views"`
}

// Property returns the definition with id, or nil
func (s *Schema) Property(id string) *PropertyDef {
	for i := range s.Properties {
		if s.Properties[i].ID == id {
			return &s.Properties[i]
		}
	}
	return nil
}

// RowRef is the index entry of a row. Fields duplicates the row's values
// so queries never load row bodies.
type RowRef struct {
	ID         string    `json:"id"`
	ContentID  string    `json:"contentId"`
	Fields     Values    `json:"fields"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Manifest owns the schema and row index of one database
type Manifest struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Schema     Schema    `json:"schema"`
	RowIndex   []RowRef  `json:"rowIndex"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (m *Manifest) rowIndex(id string) int {
	for i, r := range m.RowIndex {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Row is the full body of a database row
type Row struct {
	ID         string    `json:"id"`
	DatabaseID string    `json:"databaseId"`
	Properties Values    `json:"properties"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}
