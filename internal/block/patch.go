package block

import (
	"fmt"
	"sort"
	"strings"
)

// Patch is a partial property update. Nil fields are left untouched; every
// non-nil field must apply to the block's (resulting) type.
type Patch struct {
	Text       *RichText   `json:"text,omitempty"`
	Level      *int        `json:"level,omitempty"`
	Checked    *bool       `json:"checked,omitempty"`
	Expanded   *bool       `json:"expanded,omitempty"`
	Icon       *string     `json:"icon,omitempty"`
	Color      *string     `json:"color,omitempty"`
	Language   *string     `json:"language,omitempty"`
	Wrap       *bool       `json:"wrap,omitempty"`
	URL        *string     `json:"url,omitempty"`
	Caption    *RichText   `json:"caption,omitempty"`
	Width      *int        `json:"width,omitempty"`
	Name       *string     `json:"name,omitempty"`
	Size       *int64      `json:"size,omitempty"`
	Columns    *int        `json:"columns,omitempty"`
	HasHeader  *bool       `json:"hasHeader,omitempty"`
	Cells      *[][]string `json:"cells,omitempty"`
	Ratio      *float64    `json:"ratio,omitempty"`
	PageID     *string     `json:"pageId,omitempty"`
	DatabaseID *string     `json:"databaseId,omitempty"`
	ViewID     *string     `json:"viewId,omitempty"`
}

// Empty reports whether the patch sets nothing
func (p Patch) Empty() bool {
	return len(p.fields()) == 0
}

func (p Patch) fields() []string {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(p.Text != nil, "text")
	add(p.Level != nil, "level")
	add(p.Checked != nil, "checked")
	add(p.Expanded != nil, "expanded")
	add(p.Icon != nil, "icon")
	add(p.Color != nil, "color")
	add(p.Language != nil, "language")
	add(p.Wrap != nil, "wrap")
	add(p.URL != nil, "url")
	add(p.Caption != nil, "caption")
	add(p.Width != nil, "width")
	add(p.Name != nil, "name")
	add(p.Size != nil, "size")
	add(p.Columns != nil, "columns")
	add(p.HasHeader != nil, "hasHeader")
	add(p.Cells != nil, "cells")
	add(p.Ratio != nil, "ratio")
	add(p.PageID != nil, "pageId")
	add(p.DatabaseID != nil, "databaseId")
	add(p.ViewID != nil, "viewId")
	return set
}

// patchable lists the patch fields each type accepts
var patchable = map[Type][]string{
	TypeParagraph:     {"text"},
	TypeHeading:       {"text", "level"},
	TypeBulletList:    {"text"},
	TypeNumberedList:  {"text"},
	TypeTodo:          {"text", "checked"},
	TypeToggle:        {"text", "expanded"},
	TypeQuote:         {"text"},
	TypeCallout:       {"text", "icon", "color"},
	TypeCode:          {"text", "language", "wrap"},
	TypeDivider:       {},
	TypeImage:         {"url", "caption", "width"},
	TypeVideo:         {"url", "caption"},
	TypeFile:          {"url", "name", "size"},
	TypeEmbed:         {"url"},
	TypeTable:         {"columns", "hasHeader", "cells"},
	TypeColumnList:    {},
	TypeColumn:        {"ratio"},
	TypePageReference: {"pageId"},
	TypeDatabase:      {"databaseId"},
	TypeDatabaseView:  {"databaseId", "viewId"},
}

func (p Patch) validate(t Type) error {
	allowed := make(map[string]bool)
	for _, f := range patchable[t] {
		allowed[f] = true
	}

	var invalid []string
	for _, f := range p.fields() {
		if !allowed[f] {
			invalid = append(invalid, f)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("%w: %s not valid for %s blocks", ErrInvalidPatch, strings.Join(invalid, ", "), t)
	}

	if p.Level != nil && (*p.Level < 1 || *p.Level > 3) {
		return fmt.Errorf("%w: heading level %d out of range 1-3", ErrInvalidPatch, *p.Level)
	}
	if p.Columns != nil && *p.Columns < 1 {
		return fmt.Errorf("%w: table needs at least one column", ErrInvalidPatch)
	}
	if p.Ratio != nil && *p.Ratio <= 0 {
		return fmt.Errorf("%w: column ratio must be positive", ErrInvalidPatch)
	}
	if p.Width != nil && *p.Width < 0 {
		return fmt.Errorf("%w: negative image width", ErrInvalidPatch)
	}
	return nil
}

// ApplyPatch returns props with patch merged in. Nothing is applied when any
// field is invalid for the properties' type.
func ApplyPatch(props Properties, patch Patch) (Properties, error) {
	if err := patch.validate(props.Type()); err != nil {
		return props, err
	}

	if patch.Text != nil {
		props = WithText(props, *patch.Text)
	}
	if patch.Caption != nil {
		props = WithText(props, *patch.Caption)
	}
	if patch.URL != nil {
		props = withURL(props, *patch.URL)
	}

	switch v := props.(type) {
	case HeadingProps:
		setIf(&v.Level, patch.Level)
		return v, nil
	case TodoProps:
		setIf(&v.Checked, patch.Checked)
		return v, nil
	case ToggleProps:
		setIf(&v.Expanded, patch.Expanded)
		return v, nil
	case CalloutProps:
		setIf(&v.Icon, patch.Icon)
		setIf(&v.Color, patch.Color)
		return v, nil
	case CodeProps:
		setIf(&v.Language, patch.Language)
		setIf(&v.Wrap, patch.Wrap)
		return v, nil
	case ImageProps:
		setIf(&v.Width, patch.Width)
		return v, nil
	case FileProps:
		setIf(&v.Name, patch.Name)
		setIf(&v.Size, patch.Size)
		return v, nil
	case TableProps:
		setIf(&v.Columns, patch.Columns)
		setIf(&v.HasHeader, patch.HasHeader)
		if patch.Cells != nil {
			v.Cells = cloneCells(*patch.Cells)
		}
		return v, nil
	case ColumnProps:
		setIf(&v.Ratio, patch.Ratio)
		return v, nil
	case PageReferenceProps:
		setIf(&v.PageID, patch.PageID)
		return v, nil
	case DatabaseProps:
		setIf(&v.DatabaseID, patch.DatabaseID)
		return v, nil
	case DatabaseViewProps:
		setIf(&v.DatabaseID, patch.DatabaseID)
		setIf(&v.ViewID, patch.ViewID)
		return v, nil
	case ParagraphProps, BulletListProps, NumberedListProps, QuoteProps,
		DividerProps, VideoProps, EmbedProps, ColumnListProps:
		return v, nil
	default:
		panic(fmt.Sprintf("block: unhandled properties %T", props))
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func cloneCells(cells [][]string) [][]string {
	out := make([][]string, len(cells))
	for i, row := range cells {
		out[i] = append([]string(nil), row...)
	}
	return out
}
