package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseContent_OutgoingLinks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"page reference line", "[[Roadmap]]\n", []string{"Roadmap"}},
		{"inline with alias and heading", "See [[Roadmap|the plan]] and [[Budget#Q3]].", []string{"Roadmap", "Budget"}},
		{"repeated", "[[A]]\n\n[[A]] again", []string{"A"}},
		{"inside code fence", "```\n[[Not A Page]]\n```\n\n[[Real]]", []string{"Real"}},
		{"inside inline code", "type `[[x]]` to link", nil},
		{"none", "plain paragraph", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := NewParser().ParseContent(tt.body, "page.md")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(parsed.OutgoingLinks, tt.want) {
				t.Errorf("OutgoingLinks = %q, want %q", parsed.OutgoingLinks, tt.want)
			}
		})
	}
}

func TestParseContent_Tags(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "frontmatter first then inline",
			content: "---\ntags: [Travel]\n---\nPacking #todo and #travel\n",
			want:    []string{"travel", "todo"},
		},
		{
			name:    "inline only",
			content: "- [ ] call #Work/Clients\n",
			want:    []string{"work/clients"},
		},
		{
			name:    "code and issue numbers are not tags",
			content: "Fixed #42\n\n```\n#include <stdio.h>\n```\n\nrun `#cmd`",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := NewParser().ParseContent(tt.content, "page.md")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := parsed.Tags(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "Weekly Review.md")
	if err := os.WriteFile(path, []byte("# Wins\n\n- shipped import\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	parsed, err := NewParser().ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Frontmatter.Title != "Weekly Review" {
		t.Errorf("title = %q, want %q", parsed.Frontmatter.Title, "Weekly Review")
	}
	if parsed.Frontmatter.Created == nil || parsed.Frontmatter.Modified == nil {
		t.Error("expected dates from the file's modification time")
	}
	if len(parsed.Blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(parsed.Blocks))
	}

	bad := filepath.Join(dir, "bad.md")
	if err := os.WriteFile(bad, []byte{'#', ' ', 0xff, 0xfe}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewParser().ParseFile(bad); err == nil {
		t.Error("expected an error for invalid UTF-8")
	}

	if _, err := NewParser().ParseFile(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
