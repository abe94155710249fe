package block

import (
	"strings"
)

// Type is the block variant
type Type string

const (
	TypeParagraph     Type = "paragraph"
	TypeHeading       Type = "heading"
	TypeBulletList    Type = "bulletList"
	TypeNumberedList  Type = "numberedList"
	TypeTodo          Type = "todo"
	TypeToggle        Type = "toggle"
	TypeQuote         Type = "quote"
	TypeCallout       Type = "callout"
	TypeCode          Type = "code"
	TypeDivider       Type = "divider"
	TypeImage         Type = "image"
	TypeVideo         Type = "video"
	TypeFile          Type = "file"
	TypeEmbed         Type = "embed"
	TypeTable         Type = "table"
	TypeColumnList    Type = "columnList"
	TypeColumn        Type = "column"
	TypePageReference Type = "page-reference"
	TypeDatabase      Type = "database"
	TypeDatabaseView  Type = "databaseView"
)

// AllTypes lists every block type
var AllTypes = []Type{
	TypeParagraph, TypeHeading, TypeBulletList, TypeNumberedList, TypeTodo,
	TypeToggle, TypeQuote, TypeCallout, TypeCode, TypeDivider,
	TypeImage, TypeVideo, TypeFile, TypeEmbed, TypeTable,
	TypeColumnList, TypeColumn, TypePageReference, TypeDatabase, TypeDatabaseView,
}

// Valid reports whether t is a known block type
func (t Type) Valid() bool {
	for _, v := range AllTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TextBearing reports whether blocks of type t carry rich text bound to a
// collaborative document
func (t Type) TextBearing() bool {
	switch t {
	case TypeParagraph, TypeHeading, TypeBulletList, TypeNumberedList, TypeTodo,
		TypeToggle, TypeQuote, TypeCallout, TypeCode:
		return true
	}
	return false
}

// Container reports whether blocks of type t may have child blocks
func (t Type) Container() bool {
	switch t {
	case TypeParagraph, TypeBulletList, TypeNumberedList, TypeTodo, TypeToggle,
		TypeQuote, TypeCallout, TypeColumnList, TypeColumn:
		return true
	}
	return false
}

// Marks is the inline formatting of a run
type Marks struct {
	Bold          bool   `json:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Underline     bool   `json:"underline,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Code          bool   `json:"code,omitempty"`
	Color         string `json:"color,omitempty"`
	Link          string `json:"link,omitempty"`
}

// Run is a stretch of text sharing the same marks
type Run struct {
	Text  string `json:"text"`
	Marks Marks  `json:"marks"`
}

// RichText is a sequence of formatted runs
type RichText []Run

// Plain returns unformatted rich text for s
func Plain(s string) RichText {
	if s == "" {
		return nil
	}
	return RichText{{Text: s}}
}

// String returns the concatenated text of all runs
func (rt RichText) String() string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.Text)
	}
	return b.String()
}

func (rt RichText) clone() RichText {
	if rt == nil {
		return nil
	}
	out := make(RichText, len(rt))
	copy(out, rt)
	return out
}
