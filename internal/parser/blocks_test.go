package parser

import (
	"reflect"
	"testing"

	"github.com/vonshlovens/blockvault/internal/block"
)

func types(nodes []*Node) []block.Type {
	var out []block.Type
	for _, n := range nodes {
		out = append(out, n.Type)
	}
	return out
}

func TestParseBlocks_Types(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  block.Type
		check func(t *testing.T, n *Node)
	}{
		{"heading 1", "# Title", block.TypeHeading, func(t *testing.T, n *Node) {
			if p := n.Properties.(block.HeadingProps); p.Level != 1 || p.Text.String() != "Title" {
				t.Errorf("unexpected heading %+v", p)
			}
		}},
		{"heading clamps to 3", "##### Deep", block.TypeHeading, func(t *testing.T, n *Node) {
			if p := n.Properties.(block.HeadingProps); p.Level != 3 {
				t.Errorf("expected level 3, got %d", p.Level)
			}
		}},
		{"bullet", "- item", block.TypeBulletList, nil},
		{"bullet star", "* item", block.TypeBulletList, nil},
		{"numbered", "3. third", block.TypeNumberedList, func(t *testing.T, n *Node) {
			if got := block.PlainText(n.Properties); got != "third" {
				t.Errorf("expected text 'third', got %q", got)
			}
		}},
		{"todo open", "- [ ] write tests", block.TypeTodo, func(t *testing.T, n *Node) {
			if p := n.Properties.(block.TodoProps); p.Checked {
				t.Error("expected unchecked todo")
			}
		}},
		{"todo done", "- [x] ship", block.TypeTodo, func(t *testing.T, n *Node) {
			if p := n.Properties.(block.TodoProps); !p.Checked || p.Text.String() != "ship" {
				t.Errorf("unexpected todo %+v", p)
			}
		}},
		{"quote", "> wise words", block.TypeQuote, nil},
		{"divider", "---", block.TypeDivider, nil},
		{"divider stars", "***", block.TypeDivider, nil},
		{"image", "![diagram](https://example.com/d.png)", block.TypeImage, func(t *testing.T, n *Node) {
			p := n.Properties.(block.ImageProps)
			if p.URL != "https://example.com/d.png" || p.Caption.String() != "diagram" {
				t.Errorf("unexpected image %+v", p)
			}
		}},
		{"page reference", "[[Project Plan]]", block.TypePageReference, func(t *testing.T, n *Node) {
			if n.Ref != "Project Plan" {
				t.Errorf("expected ref 'Project Plan', got %q", n.Ref)
			}
		}},
		{"inline link stays paragraph", "see [[Project Plan]] later", block.TypeParagraph, nil},
		{"paragraph", "plain text", block.TypeParagraph, nil},
		{"issue number is not a heading", "#123 fixed", block.TypeParagraph, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := ParseBlocks(tt.line)
			if len(nodes) != 1 {
				t.Fatalf("expected 1 block, got %d", len(nodes))
			}
			if nodes[0].Type != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, nodes[0].Type)
			}
			if tt.check != nil {
				tt.check(t, nodes[0])
			}
		})
	}
}

func TestParseBlocks_CodeFence(t *testing.T) {
	body := "```go\nfunc main() {\n\t# not a heading\n}\n```\nafter\n"

	nodes := ParseBlocks(body)
	if got := types(nodes); !reflect.DeepEqual(got, []block.Type{block.TypeCode, block.TypeParagraph}) {
		t.Fatalf("unexpected blocks %v", got)
	}
	p := nodes[0].Properties.(block.CodeProps)
	if p.Language != "go" {
		t.Errorf("expected language go, got %q", p.Language)
	}
	if want := "func main() {\n\t# not a heading\n}"; p.Text.String() != want {
		t.Errorf("expected code %q, got %q", want, p.Text.String())
	}
}

func TestParseBlocks_Nesting(t *testing.T) {
	body := `- parent
  - child
    - grandchild
  - second child
- sibling

Paragraph line one
line two
`

	nodes := ParseBlocks(body)
	if got := types(nodes); !reflect.DeepEqual(got, []block.Type{block.TypeBulletList, block.TypeBulletList, block.TypeParagraph}) {
		t.Fatalf("unexpected roots %v", got)
	}

	parent := nodes[0]
	if len(parent.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(parent.Children))
	}
	if len(parent.Children[0].Children) != 1 || block.PlainText(parent.Children[0].Children[0].Properties) != "grandchild" {
		t.Error("expected grandchild under first child")
	}
	if got := block.PlainText(nodes[2].Properties); got != "Paragraph line one\nline two" {
		t.Errorf("expected joined paragraph, got %q", got)
	}
}

func TestParseBlocks_Table(t *testing.T) {
	body := "| Name | Role |\n| --- | --- |\n| Ada | Eng |\n"

	nodes := ParseBlocks(body)
	if len(nodes) != 1 || nodes[0].Type != block.TypeTable {
		t.Fatalf("expected a table, got %v", types(nodes))
	}
	p := nodes[0].Properties.(block.TableProps)
	want := [][]string{{"Name", "Role"}, {"Ada", "Eng"}}
	if !p.HasHeader || p.Columns != 2 || !reflect.DeepEqual(p.Cells, want) {
		t.Errorf("unexpected table %+v", p)
	}
}

func TestRenderBlocks_RoundTrip(t *testing.T) {
	body := `# Weekly notes

Intro paragraph
spanning two lines

- [ ] review
  - nested bullet
- [x] deploy

1. first
2. second

> quoted
> twice

` + "```python\nprint('hi')\n```" + `

---

![chart](https://example.com/c.png)

[[Roadmap]]

| a | b |
| --- | --- |
| 1 | 2 |
`

	first := ParseBlocks(body)
	rendered := RenderBlocks(first, nil)
	if rendered != body {
		t.Errorf("render mismatch\n--- got ---\n%s\n--- want ---\n%s", rendered, body)
	}
	if again := ParseBlocks(rendered); !reflect.DeepEqual(again, first) {
		t.Error("reparsing the rendered body changed the blocks")
	}
}

func TestRenderBlocks_PageReferenceTitle(t *testing.T) {
	nodes := []*Node{
		{Type: block.TypePageReference, Properties: block.PageReferenceProps{PageID: "p1"}},
		{Type: block.TypePageReference, Properties: block.PageReferenceProps{PageID: "gone"}},
		{Type: block.TypeColumnList, Properties: block.ColumnListProps{}, Children: []*Node{
			{Type: block.TypeColumn, Properties: block.ColumnProps{Ratio: 1}, Children: []*Node{
				{Type: block.TypeParagraph, Properties: block.ParagraphProps{Text: block.Plain("in a column")}},
			}},
		}},
	}
	titles := map[string]string{"p1": "Design"}

	got := RenderBlocks(nodes, func(id string) string { return titles[id] })
	if want := "[[Design]]\n\nin a column\n"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParserParseContent(t *testing.T) {
	p := NewParser()

	content := `---
title: My Page
tags:
  - frontmatter-tag
---
This is my page with [[Link One]] and [[Link Two]].

It also has #inline-tag and #another-tag.
`

	parsed, err := p.ParseContent(content, "test.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Frontmatter.Title != "My Page" {
		t.Errorf("expected title 'My Page', got %q", parsed.Frontmatter.Title)
	}
	if len(parsed.OutgoingLinks) != 2 {
		t.Errorf("expected 2 outgoing links, got %d", len(parsed.OutgoingLinks))
	}
	if len(parsed.Tags()) != 3 {
		t.Errorf("expected 3 merged tags, got %v", parsed.Tags())
	}
	if len(parsed.Blocks) != 2 {
		t.Errorf("expected 2 paragraphs, got %d", len(parsed.Blocks))
	}
	if parsed.RawContent != content {
		t.Error("raw content doesn't match input")
	}

	untitled, err := p.ParseContent("body only", "notes/Meeting Notes.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if untitled.Frontmatter.Title != "Meeting Notes" {
		t.Errorf("expected title from file name, got %q", untitled.Frontmatter.Title)
	}
}
