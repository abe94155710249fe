// Package parser converts between markdown files and pages: a YAML
// frontmatter header for page metadata and a body that maps onto blocks.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vonshlovens/blockvault/internal/block"
)

var (
	// wikiLinkRegex matches [[Page Name]] and [[Page Name|Alias]]
	wikiLinkRegex = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]+)?\]\]`)

	// inlineTagRegex matches #tag-name (but not #123 or inside code blocks)
	inlineTagRegex = regexp.MustCompile(`(?:^|[^&\w])#([a-zA-Z][a-zA-Z0-9_/-]*)`)

	codeBlockRegex  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRegex = regexp.MustCompile("`[^`]+`")

	headingRegex  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	todoRegex     = regexp.MustCompile(`^[-*+]\s+\[([ xX])\](?:\s+(.*))?$`)
	bulletRegex   = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	numberedRegex = regexp.MustCompile(`^\d+[.)]\s+(.*)$`)
	dividerRegex  = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,})$`)
	imageRegex    = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)$`)
	pageRefRegex  = regexp.MustCompile(`^\[\[([^\]|#]+)(?:#[^\]|]*)?(?:\|[^\]]+)?\]\]$`)
	tableSepRegex = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)*\|?$`)
)

// Node is a block parsed from markdown, before it is given an id
type Node struct {
	Type       block.Type
	Properties block.Properties
	// Ref is the linked page title of a page reference
	Ref      string
	Children []*Node
}

// ParsedPage is a markdown file converted to page metadata and blocks
type ParsedPage struct {
	Frontmatter   *Frontmatter
	Body          string
	RawContent    string
	Blocks        []*Node
	OutgoingLinks []string
	InlineTags    []string
}

// Tags returns the frontmatter tags merged with the inline tags
func (p *ParsedPage) Tags() []string {
	return MergeTags(p.Frontmatter.Tags, p.InlineTags)
}

// Parser handles parsing of markdown pages
type Parser struct{}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a markdown file. Missing frontmatter dates
// fall back to the file's modification time.
func (p *Parser) ParseFile(path string) (*ParsedPage, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !IsValidUTF8(string(content)) {
		return nil, fmt.Errorf("%s is not valid UTF-8", path)
	}

	parsed, err := p.ParseContent(string(content), path)
	if err != nil {
		return nil, err
	}

	if parsed.Frontmatter.Created == nil || parsed.Frontmatter.Modified == nil {
		created, modified, err := GetFileTimestamps(path)
		if err == nil {
			if parsed.Frontmatter.Created == nil {
				parsed.Frontmatter.Created = created
			}
			if parsed.Frontmatter.Modified == nil {
				parsed.Frontmatter.Modified = modified
			}
		}
	}
	return parsed, nil
}

// ParseContent parses markdown content. The title falls back to the file
// name when the frontmatter has none.
func (p *Parser) ParseContent(content string, path string) (*ParsedPage, error) {
	fm, body := ParseFrontmatter(content)
	parsed := &ParsedPage{
		Frontmatter:   fm,
		Body:          body,
		RawContent:    content,
		Blocks:        ParseBlocks(body),
		OutgoingLinks: extractWikiLinks(body),
		InlineTags:    extractInlineTags(body),
	}

	if fm.Title == "" && path != "" {
		filename := filepath.Base(path)
		fm.Title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	return parsed, nil
}

type openNode struct {
	indent int
	node   *Node
}

type blockParser struct {
	roots []*Node
	stack []openNode

	// cont accepts continuation lines: a paragraph or a quote
	cont       *Node
	contIndent int
}

func (bp *blockParser) attach(n *Node, indent int) {
	for len(bp.stack) > 0 && bp.stack[len(bp.stack)-1].indent >= indent {
		bp.stack = bp.stack[:len(bp.stack)-1]
	}
	if len(bp.stack) > 0 {
		parent := bp.stack[len(bp.stack)-1].node
		parent.Children = append(parent.Children, n)
	} else {
		bp.roots = append(bp.roots, n)
	}
	if n.Type.Container() {
		bp.stack = append(bp.stack, openNode{indent: indent, node: n})
	}
}

// ParseBlocks converts a markdown body to a block tree. Indentation under a
// list item or paragraph nests the following lines as its children.
func ParseBlocks(body string) []*Node {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	bp := &blockParser{}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		indent, text := splitIndent(line)
		if text == "" {
			bp.cont = nil
			continue
		}

		if lang, ok := strings.CutPrefix(text, "```"); ok {
			var code []string
			for i++; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == "```" {
					break
				}
				code = append(code, trimIndent(lines[i], indent))
			}
			bp.cont = nil
			bp.attach(codeNode(strings.TrimSpace(lang), strings.Join(code, "\n")), indent)
			continue
		}

		if strings.HasPrefix(text, "|") {
			rows := []string{text}
			for i+1 < len(lines) {
				_, next := splitIndent(strings.TrimRight(lines[i+1], " \t"))
				if !strings.HasPrefix(next, "|") {
					break
				}
				rows = append(rows, next)
				i++
			}
			bp.cont = nil
			bp.attach(tableNode(rows), indent)
			continue
		}

		if quote, ok := quoteText(text); ok {
			if bp.cont != nil && bp.cont.Type == block.TypeQuote && bp.contIndent == indent {
				appendText(bp.cont, quote)
				continue
			}
			n := &Node{Type: block.TypeQuote, Properties: block.QuoteProps{Text: block.Plain(quote)}}
			bp.attach(n, indent)
			bp.cont, bp.contIndent = n, indent
			continue
		}

		n := classify(text)
		if n.Type == block.TypeParagraph {
			if bp.cont != nil && bp.cont.Type == block.TypeParagraph && bp.contIndent == indent {
				appendText(bp.cont, text)
				continue
			}
			bp.attach(n, indent)
			bp.cont, bp.contIndent = n, indent
			continue
		}
		bp.cont = nil
		bp.attach(n, indent)
	}
	return bp.roots
}

// classify converts a single unindented line to a block
func classify(text string) *Node {
	if m := headingRegex.FindStringSubmatch(text); m != nil {
		level := min(len(m[1]), 3)
		return &Node{Type: block.TypeHeading, Properties: block.HeadingProps{Text: block.Plain(m[2]), Level: level}}
	}
	if dividerRegex.MatchString(text) {
		return &Node{Type: block.TypeDivider, Properties: block.DividerProps{}}
	}
	if m := todoRegex.FindStringSubmatch(text); m != nil {
		return &Node{Type: block.TypeTodo, Properties: block.TodoProps{Text: block.Plain(m[2]), Checked: m[1] != " "}}
	}
	if m := bulletRegex.FindStringSubmatch(text); m != nil {
		return &Node{Type: block.TypeBulletList, Properties: block.BulletListProps{Text: block.Plain(m[1])}}
	}
	if m := numberedRegex.FindStringSubmatch(text); m != nil {
		return &Node{Type: block.TypeNumberedList, Properties: block.NumberedListProps{Text: block.Plain(m[1])}}
	}
	if m := imageRegex.FindStringSubmatch(text); m != nil {
		return &Node{Type: block.TypeImage, Properties: block.ImageProps{URL: m[2], Caption: block.Plain(m[1])}}
	}
	if m := pageRefRegex.FindStringSubmatch(text); m != nil {
		return &Node{Type: block.TypePageReference, Properties: block.PageReferenceProps{}, Ref: strings.TrimSpace(m[1])}
	}
	return &Node{Type: block.TypeParagraph, Properties: block.ParagraphProps{Text: block.Plain(text)}}
}

func quoteText(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, ">")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func codeNode(lang, code string) *Node {
	if lang == "" {
		lang = "plain"
	}
	return &Node{Type: block.TypeCode, Properties: block.CodeProps{Text: block.Plain(code), Language: lang}}
}

func tableNode(rows []string) *Node {
	props := block.TableProps{}
	for i, row := range rows {
		if tableSepRegex.MatchString(row) {
			if i == 1 {
				props.HasHeader = true
			}
			continue
		}
		row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
		cells := strings.Split(row, "|")
		for j := range cells {
			cells[j] = strings.TrimSpace(cells[j])
		}
		props.Cells = append(props.Cells, cells)
		props.Columns = max(props.Columns, len(cells))
	}
	for i := range props.Cells {
		for len(props.Cells[i]) < props.Columns {
			props.Cells[i] = append(props.Cells[i], "")
		}
	}
	return &Node{Type: block.TypeTable, Properties: props}
}

func appendText(n *Node, line string) {
	text := block.PlainText(n.Properties) + "\n" + line
	n.Properties = block.WithText(n.Properties, block.Plain(text))
}

// splitIndent returns the indentation width of line, counting a tab as four
// columns, and the rest of the line
func splitIndent(line string) (int, string) {
	width := 0
	for i, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width, line[i:]
		}
	}
	return width, ""
}

// trimIndent removes up to width columns of indentation
func trimIndent(line string, width int) string {
	for width > 0 && line != "" {
		switch line[0] {
		case ' ':
			width--
		case '\t':
			width -= 4
		default:
			return line
		}
		line = line[1:]
	}
	return line
}

// extractWikiLinks finds all [[wikilinks]] in the content, excluding code
func extractWikiLinks(content string) []string {
	matches := wikiLinkRegex.FindAllStringSubmatch(stripCode(content), -1)
	seen := make(map[string]bool)
	var links []string

	for _, match := range matches {
		link := strings.TrimSpace(match[1])
		// [[page#heading]] links to page
		if idx := strings.Index(link, "#"); idx != -1 {
			link = strings.TrimSpace(link[:idx])
		}
		if link != "" && !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}
	return links
}

func stripCode(content string) string {
	return inlineCodeRegex.ReplaceAllString(codeBlockRegex.ReplaceAllString(content, ""), "")
}

// extractInlineTags finds all #tags in the content, excluding code
func extractInlineTags(content string) []string {
	matches := inlineTagRegex.FindAllStringSubmatch(stripCode(content), -1)
	seen := make(map[string]bool)
	var tags []string

	for _, match := range matches {
		tag := strings.ToLower(strings.TrimSpace(match[1]))
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// MergeTags combines frontmatter tags and inline tags, removing duplicates
func MergeTags(frontmatterTags, inlineTags []string) []string {
	seen := make(map[string]bool)
	var merged []string

	for _, list := range [][]string{frontmatterTags, inlineTags} {
		for _, tag := range list {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" && !seen[tag] {
				seen[tag] = true
				merged = append(merged, tag)
			}
		}
	}
	return merged
}

// GetFileTimestamps returns created and modified times from file stats.
// Creation time is not portable, so both are the modification time.
func GetFileTimestamps(path string) (created *time.Time, modified *time.Time, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	modTime := info.ModTime()
	return &modTime, &modTime, nil
}

// IsValidUTF8 checks if content is valid UTF-8
func IsValidUTF8(content string) bool {
	return utf8.ValidString(content)
}

// numberPrefix is the marker of the n-th item of a numbered list
func numberPrefix(n int) string {
	return strconv.Itoa(n) + ". "
}
