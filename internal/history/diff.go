package history

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Op classifies a diff run
type Op int

const (
	OpEqual Op = iota
	OpAdded
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpAdded:
		return "added"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Run is a maximal sequence of lines or tokens sharing one Op
type Run struct {
	Op    Op       `json:"op"`
	Items []string `json:"items"`
}

// Summary counts the changes of a line diff. Modified pairs a removed run
// with the added run right after it and is a display statistic only.
type Summary struct {
	LinesAdded    int `json:"linesAdded"`
	LinesRemoved  int `json:"linesRemoved"`
	LinesModified int `json:"linesModified"`
	CharsAdded    int `json:"charsAdded"`
	CharsRemoved  int `json:"charsRemoved"`
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// splitWords splits s into alternating word and whitespace tokens whose
// concatenation is s
func splitWords(s string) []string {
	var tokens []string
	start := 0
	for i, r := range s {
		if i == 0 {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(prev) != unicode.IsSpace(r) {
			tokens = append(tokens, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// DiffLines computes a line diff
func DiffLines(a, b string) []Run {
	return diff(splitLines(a), splitLines(b))
}

// DiffWords computes a token diff where tokens are words and whitespace
func DiffWords(a, b string) []Run {
	return diff(splitWords(a), splitWords(b))
}

// diff turns the matcher's opcodes into runs. The matcher keeps per-item
// index lists of b, so memory grows with the input instead of its square.
func diff(a, b []string) []Run {
	var runs []Run
	for _, c := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch c.Tag {
		case 'e':
			runs = appendRun(runs, OpEqual, a[c.I1:c.I2]...)
		case 'd':
			runs = appendRun(runs, OpRemoved, a[c.I1:c.I2]...)
		case 'i':
			runs = appendRun(runs, OpAdded, b[c.J1:c.J2]...)
		case 'r':
			runs = appendRun(runs, OpRemoved, a[c.I1:c.I2]...)
			runs = appendRun(runs, OpAdded, b[c.J1:c.J2]...)
		}
	}
	return runs
}

func appendRun(runs []Run, op Op, items ...string) []Run {
	if len(items) == 0 {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Op == op {
		runs[n-1].Items = append(runs[n-1].Items, items...)
		return runs
	}
	return append(runs, Run{Op: op, Items: append([]string(nil), items...)})
}

// Apply rebuilds the new text of a line diff from the old text a
func Apply(a string, runs []Run) (string, error) {
	lines := splitLines(a)
	var out []string
	pos := 0
	for _, r := range runs {
		switch r.Op {
		case OpEqual, OpRemoved:
			for _, item := range r.Items {
				if pos >= len(lines) || lines[pos] != item {
					return "", fmt.Errorf("diff does not apply at line %d", pos+1)
				}
				if r.Op == OpEqual {
					out = append(out, item)
				}
				pos++
			}
		case OpAdded:
			out = append(out, r.Items...)
		}
	}
	if pos != len(lines) {
		return "", fmt.Errorf("diff leaves %d trailing lines", len(lines)-pos)
	}
	return strings.Join(out, "\n"), nil
}

// Summarize counts the changes of a line diff
func Summarize(runs []Run) Summary {
	var s Summary
	for i, r := range runs {
		chars := 0
		for _, item := range r.Items {
			chars += utf8.RuneCountInString(item)
		}

		switch r.Op {
		case OpAdded:
			s.LinesAdded += len(r.Items)
			s.CharsAdded += chars
			if i > 0 && runs[i-1].Op == OpRemoved {
				s.LinesModified += min(len(r.Items), len(runs[i-1].Items))
			}
		case OpRemoved:
			s.LinesRemoved += len(r.Items)
			s.CharsRemoved += chars
		}
	}
	return s
}

// Unified renders a unified diff with the given context lines
func Unified(a, b, fromName, toName string, context int) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("failed to render unified diff: %w", err)
	}
	return out, nil
}

// Row is one line of a side-by-side view. Line numbers are 1-based and zero
// when the side is empty.
type Row struct {
	Op       Op     `json:"op"`
	Modified bool   `json:"modified,omitempty"`
	LeftNo   int    `json:"leftNo,omitempty"`
	Left     string `json:"left,omitempty"`
	RightNo  int    `json:"rightNo,omitempty"`
	Right    string `json:"right,omitempty"`
}

// SideBySide lays a line diff out in two columns, pairing removed lines with
// the added lines that replace them
func SideBySide(runs []Run) []Row {
	var rows []Row
	left, right := 1, 1
	for i := 0; i < len(runs); i++ {
		r := runs[i]
		switch r.Op {
		case OpEqual:
			for _, item := range r.Items {
				rows = append(rows, Row{Op: OpEqual, LeftNo: left, Left: item, RightNo: right, Right: item})
				left++
				right++
			}
		case OpRemoved:
			var added []string
			if i+1 < len(runs) && runs[i+1].Op == OpAdded {
				added = runs[i+1].Items
				i++
			}
			for k := 0; k < max(len(r.Items), len(added)); k++ {
				row := Row{Op: OpRemoved}
				if k < len(r.Items) {
					row.LeftNo, row.Left = left, r.Items[k]
					left++
				}
				if k < len(added) {
					row.RightNo, row.Right = right, added[k]
					right++
					row.Op = OpAdded
				}
				row.Modified = k < len(r.Items) && k < len(added)
				rows = append(rows, row)
			}
		case OpAdded:
			for _, item := range r.Items {
				rows = append(rows, Row{Op: OpAdded, RightNo: right, Right: item})
				right++
			}
		}
	}
	return rows
}
