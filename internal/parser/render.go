package parser

import (
	"strings"

	"github.com/vonshlovens/blockvault/internal/block"
)

// TitleFunc returns the title of a referenced page, or "" when unknown
type TitleFunc func(pageID string) string

// Render writes a page as markdown: the frontmatter header followed by the
// block tree. Page references are written as [[Title]] using titleOf.
func Render(fm *Frontmatter, nodes []*Node, titleOf TitleFunc) (string, error) {
	header, err := RenderFrontmatter(fm)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	body := RenderBlocks(nodes, titleOf)
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String(), nil
}

// RenderBlocks writes a block tree as a markdown body. Children are indented
// two spaces per level.
func RenderBlocks(nodes []*Node, titleOf TitleFunc) string {
	r := &renderer{titleOf: titleOf}
	r.nodes(nodes, 0)
	if r.b.Len() == 0 {
		return ""
	}
	return r.b.String() + "\n"
}

type renderer struct {
	b       strings.Builder
	titleOf TitleFunc

	prev      *Node
	prevDepth int
}

func listItem(t block.Type) bool {
	switch t {
	case block.TypeBulletList, block.TypeNumberedList, block.TypeTodo, block.TypeToggle:
		return true
	}
	return false
}

// sameList reports whether n continues the list of the previous block, in
// which case no blank line separates them
func (r *renderer) sameList(n *Node, depth int) bool {
	if r.prev == nil || !listItem(r.prev.Type) || !listItem(n.Type) {
		return false
	}
	return r.prev.Type == n.Type || r.prevDepth != depth
}

func (r *renderer) nodes(nodes []*Node, depth int) {
	number := 0
	for _, n := range nodes {
		if n.Type == block.TypeColumnList || n.Type == block.TypeColumn {
			r.nodes(n.Children, depth)
			number = 0
			continue
		}
		if n.Type == block.TypeNumberedList {
			number++
		} else {
			number = 0
		}

		lines := r.lines(n, number)
		if lines == nil {
			continue
		}
		if r.b.Len() > 0 {
			r.b.WriteString("\n")
			if !r.sameList(n, depth) {
				r.b.WriteString("\n")
			}
		}

		prefix := strings.Repeat("  ", depth)
		for i, line := range lines {
			if i > 0 {
				r.b.WriteString("\n")
			}
			if line != "" || n.Type != block.TypeCode {
				r.b.WriteString(prefix)
			}
			r.b.WriteString(line)
		}
		r.prev, r.prevDepth = n, depth
		r.nodes(n.Children, depth+1)
	}
}

// lines returns the markdown of a single block without indentation, or nil
// for blocks that have no markdown form
func (r *renderer) lines(n *Node, number int) []string {
	text := block.PlainText(n.Properties)
	single := strings.ReplaceAll(text, "\n", " ")

	switch p := n.Properties.(type) {
	case block.ParagraphProps:
		if text == "" && len(n.Children) == 0 {
			return nil
		}
		return strings.Split(text, "\n")
	case block.HeadingProps:
		level := min(max(p.Level, 1), 3)
		return []string{strings.Repeat("#", level) + " " + single}
	case block.BulletListProps, block.ToggleProps:
		return []string{"- " + single}
	case block.NumberedListProps:
		return []string{numberPrefix(number) + single}
	case block.TodoProps:
		box := "[ ]"
		if p.Checked {
			box = "[x]"
		}
		return []string{strings.TrimRight("- "+box+" "+single, " ")}
	case block.QuoteProps:
		return quoteLines(text)
	case block.CalloutProps:
		if p.Icon != "" {
			text = p.Icon + " " + text
		}
		return quoteLines(text)
	case block.CodeProps:
		lang := p.Language
		if lang == "plain" {
			lang = ""
		}
		out := []string{"```" + lang}
		if text != "" {
			out = append(out, strings.Split(text, "\n")...)
		}
		return append(out, "```")
	case block.DividerProps:
		return []string{"---"}
	case block.ImageProps:
		return []string{"![" + single + "](" + p.URL + ")"}
	case block.VideoProps:
		return []string{link(single, p.URL)}
	case block.FileProps:
		return []string{link(p.Name, p.URL)}
	case block.EmbedProps:
		return []string{link("", p.URL)}
	case block.TableProps:
		return tableLines(p)
	case block.PageReferenceProps:
		title := n.Ref
		if title == "" && r.titleOf != nil {
			title = r.titleOf(p.PageID)
		}
		if title == "" {
			return nil
		}
		return []string{"[[" + title + "]]"}
	}
	return nil
}

func quoteLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight("> "+l, " ")
	}
	return lines
}

func link(label, url string) string {
	if url == "" {
		return label
	}
	if label == "" {
		label = url
	}
	return "[" + label + "](" + url + ")"
}

func tableLines(p block.TableProps) []string {
	if len(p.Cells) == 0 {
		return nil
	}
	row := func(cells []string) string {
		return "| " + strings.Join(cells, " | ") + " |"
	}

	var out []string
	for i, cells := range p.Cells {
		out = append(out, row(cells))
		if i == 0 && p.HasHeader {
			sep := make([]string, len(cells))
			for j := range sep {
				sep[j] = "---"
			}
			out = append(out, row(sep))
		}
	}
	return out
}
