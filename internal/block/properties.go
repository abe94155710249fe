package block

import (
	"encoding/json"
	"fmt"
)

// Properties is the type-specific payload of a block. The set of
// implementations is closed: one struct per Type.
type Properties interface {
	Type() Type
	sealed()
}

type ParagraphProps struct {
	Text RichText `json:"text,omitempty"`
}

type HeadingProps struct {
	Text  RichText `json:"text,omitempty"`
	Level int      `json:"level"`
}

type BulletListProps struct {
	Text RichText `json:"text,omitempty"`
}

type NumberedListProps struct {
	Text RichText `json:"text,omitempty"`
}

type TodoProps struct {
	Text    RichText `json:"text,omitempty"`
	Checked bool     `json:"checked"`
}

type ToggleProps struct {
	Text     RichText `json:"text,omitempty"`
	Expanded bool     `json:"expanded"`
}

type QuoteProps struct {
	Text RichText `json:"text,omitempty"`
}

type CalloutProps struct {
	Text  RichText `json:"text,omitempty"`
	Icon  string   `json:"icon,omitempty"`
	Color string   `json:"color,omitempty"`
}

type CodeProps struct {
	Text     RichText `json:"text,omitempty"`
	Language string   `json:"language"`
	Wrap     bool     `json:"wrap,omitempty"`
}

type DividerProps struct{}

type ImageProps struct {
	URL     string   `json:"url,omitempty"`
	Caption RichText `json:"caption,omitempty"`
	Width   int      `json:"width,omitempty"`
}

type VideoProps struct {
	URL     string   `json:"url,omitempty"`
	Caption RichText `json:"caption,omitempty"`
}

type FileProps struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type EmbedProps struct {
	URL string `json:"url,omitempty"`
}

type TableProps struct {
	Columns   int        `json:"columns"`
	HasHeader bool       `json:"hasHeader,omitempty"`
	Cells     [][]string `json:"cells,omitempty"`
}

type ColumnListProps struct{}

type ColumnProps struct {
	Ratio float64 `json:"ratio"`
}

type PageReferenceProps struct {
	PageID string `json:"pageId,omitempty"`
}

type DatabaseProps struct {
	DatabaseID string `json:"databaseId,omitempty"`
}

type DatabaseViewProps struct {
	DatabaseID string `json:"databaseId,omitempty"`
	ViewID     string `json:"viewId,omitempty"`
}

func (ParagraphProps) Type() Type     { return TypeParagraph }
func (HeadingProps) Type() Type       { return TypeHeading }
func (BulletListProps) Type() Type    { return TypeBulletList }
func (NumberedListProps) Type() Type  { return TypeNumberedList }
func (TodoProps) Type() Type          { return TypeTodo }
func (ToggleProps) Type() Type        { return TypeToggle }
func (QuoteProps) Type() Type         { return TypeQuote }
func (CalloutProps) Type() Type       { return TypeCallout }
func (CodeProps) Type() Type          { return TypeCode }
func (DividerProps) Type() Type       { return TypeDivider }
func (ImageProps) Type() Type         { return TypeImage }
func (VideoProps) Type() Type         { return TypeVideo }
func (FileProps) Type() Type          { return TypeFile }
func (EmbedProps) Type() Type         { return TypeEmbed }
func (TableProps) Type() Type         { return TypeTable }
func (ColumnListProps) Type() Type    { return TypeColumnList }
func (ColumnProps) Type() Type        { return TypeColumn }
func (PageReferenceProps) Type() Type { return TypePageReference }
func (DatabaseProps) Type() Type      { return TypeDatabase }
func (DatabaseViewProps) Type() Type  { return TypeDatabaseView }

func (ParagraphProps) sealed()     {}
func (HeadingProps) sealed()       {}
func (BulletListProps) sealed()    {}
func (NumberedListProps) sealed()  {}
func (TodoProps) sealed()          {}
func (ToggleProps) sealed()        {}
func (QuoteProps) sealed()         {}
func (CalloutProps) sealed()       {}
func (CodeProps) sealed()          {}
func (DividerProps) sealed()       {}
func (ImageProps) sealed()         {}
func (VideoProps) sealed()         {}
func (FileProps) sealed()          {}
func (EmbedProps) sealed()         {}
func (TableProps) sealed()         {}
func (ColumnListProps) sealed()    {}
func (ColumnProps) sealed()        {}
func (PageReferenceProps) sealed() {}
func (DatabaseProps) sealed()      {}
func (DatabaseViewProps) sealed()  {}

// Defaults returns the initial properties for a new block of type t
func Defaults(t Type) Properties {
	switch t {
	case TypeParagraph:
		return ParagraphProps{}
	case TypeHeading:
		return HeadingProps{Level: 1}
	case TypeBulletList:
		return BulletListProps{}
	case TypeNumberedList:
		return NumberedListProps{}
	case TypeTodo:
		return TodoProps{Checked: false}
	case TypeToggle:
		return ToggleProps{Expanded: true}
	case TypeQuote:
		return QuoteProps{}
	case TypeCallout:
		return CalloutProps{Icon: "💡"}
	case TypeCode:
		return CodeProps{Language: "plain"}
	case TypeDivider:
		return DividerProps{}
	case TypeImage:
		return ImageProps{}
	case TypeVideo:
		return VideoProps{}
	case TypeFile:
		return FileProps{}
	case TypeEmbed:
		return EmbedProps{}
	case TypeTable:
		return TableProps{Columns: 2, Cells: [][]string{{"", ""}}}
	case TypeColumnList:
		return ColumnListProps{}
	case TypeColumn:
		return ColumnProps{Ratio: 1}
	case TypePageReference:
		return PageReferenceProps{}
	case TypeDatabase:
		return DatabaseProps{}
	case TypeDatabaseView:
		return DatabaseViewProps{}
	default:
		panic(fmt.Sprintf("block: unhandled type %q", t))
	}
}

// TextOf returns the primary rich text of p: the body of text blocks or the
// caption of media blocks. ok is false for types without text.
func TextOf(p Properties) (rt RichText, ok bool) {
	switch v := p.(type) {
	case ParagraphProps:
		return v.Text, true
	case HeadingProps:
		return v.Text, true
	case BulletListProps:
		return v.Text, true
	case NumberedListProps:
		return v.Text, true
	case TodoProps:
		return v.Text, true
	case ToggleProps:
		return v.Text, true
	case QuoteProps:
		return v.Text, true
	case CalloutProps:
		return v.Text, true
	case CodeProps:
		return v.Text, true
	case ImageProps:
		return v.Caption, true
	case VideoProps:
		return v.Caption, true
	case DividerProps, FileProps, EmbedProps, TableProps, ColumnListProps,
		ColumnProps, PageReferenceProps, DatabaseProps, DatabaseViewProps:
		return nil, false
	default:
		panic(fmt.Sprintf("block: unhandled properties %T", p))
	}
}

// PlainText returns the unformatted primary text of p
func PlainText(p Properties) string {
	rt, _ := TextOf(p)
	return rt.String()
}

// WithText returns p with its primary text replaced. Types without text are
// returned unchanged.
func WithText(p Properties, rt RichText) Properties {
	rt = rt.clone()
	switch v := p.(type) {
	case ParagraphProps:
		v.Text = rt
		return v
	case HeadingProps:
		v.Text = rt
		return v
	case BulletListProps:
		v.Text = rt
		return v
	case NumberedListProps:
		v.Text = rt
		return v
	case TodoProps:
		v.Text = rt
		return v
	case ToggleProps:
		v.Text = rt
		return v
	case QuoteProps:
		v.Text = rt
		return v
	case CalloutProps:
		v.Text = rt
		return v
	case CodeProps:
		v.Text = rt
		return v
	case ImageProps:
		v.Caption = rt
		return v
	case VideoProps:
		v.Caption = rt
		return v
	case DividerProps, FileProps, EmbedProps, TableProps, ColumnListProps,
		ColumnProps, PageReferenceProps, DatabaseProps, DatabaseViewProps:
		return p
	default:
		panic(fmt.Sprintf("block: unhandled properties %T", p))
	}
}

func urlOf(p Properties) string {
	switch v := p.(type) {
	case ImageProps:
		return v.URL
	case VideoProps:
		return v.URL
	case FileProps:
		return v.URL
	case EmbedProps:
		return v.URL
	}
	return ""
}

func withURL(p Properties, url string) Properties {
	switch v := p.(type) {
	case ImageProps:
		v.URL = url
		return v
	case VideoProps:
		v.URL = url
		return v
	case FileProps:
		v.URL = url
		return v
	case EmbedProps:
		v.URL = url
		return v
	}
	return p
}

// Convert returns properties for type to carrying over what survives the
// conversion: the primary text and, between media types, the url. Every
// other field is reset to the defaults of the new type.
func Convert(p Properties, to Type) Properties {
	if p.Type() == to {
		return p
	}
	out := Defaults(to)
	if rt, ok := TextOf(p); ok {
		out = WithText(out, rt)
	}
	if url := urlOf(p); url != "" {
		out = withURL(out, url)
	}
	return out
}

// MarshalProperties encodes p as JSON
func MarshalProperties(p Properties) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s properties: %w", p.Type(), err)
	}
	return data, nil
}

// UnmarshalProperties decodes properties of type t. Empty input yields the
// defaults.
func UnmarshalProperties(t Type, raw json.RawMessage) (Properties, error) {
	if len(raw) == 0 {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidProperties, t)
		}
		return Defaults(t), nil
	}

	switch t {
	case TypeParagraph:
		return decode[ParagraphProps](raw)
	case TypeHeading:
		return decode[HeadingProps](raw)
	case TypeBulletList:
		return decode[BulletListProps](raw)
	case TypeNumberedList:
		return decode[NumberedListProps](raw)
	case TypeTodo:
		return decode[TodoProps](raw)
	case TypeToggle:
		return decode[ToggleProps](raw)
	case TypeQuote:
		return decode[QuoteProps](raw)
	case TypeCallout:
		return decode[CalloutProps](raw)
	case TypeCode:
		return decode[CodeProps](raw)
	case TypeDivider:
		return decode[DividerProps](raw)
	case TypeImage:
		return decode[ImageProps](raw)
	case TypeVideo:
		return decode[VideoProps](raw)
	case TypeFile:
		return decode[FileProps](raw)
	case TypeEmbed:
		return decode[EmbedProps](raw)
	case TypeTable:
		return decode[TableProps](raw)
	case TypeColumnList:
		return decode[ColumnListProps](raw)
	case TypeColumn:
		return decode[ColumnProps](raw)
	case TypePageReference:
		return decode[PageReferenceProps](raw)
	case TypeDatabase:
		return decode[DatabaseProps](raw)
	case TypeDatabaseView:
		return decode[DatabaseViewProps](raw)
	default:
		return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidProperties, t)
	}
}

func decode[T Properties](raw json.RawMessage) (Properties, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	return v, nil
}
