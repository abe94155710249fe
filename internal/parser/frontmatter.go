package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// frontmatterRegex matches YAML frontmatter between --- delimiters
	frontmatterRegex = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

	dateFormats = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
	}

	knownFields = map[string]bool{
		"title": true, "icon": true, "cover": true, "tags": true,
		"favorite": true, "created": true, "modified": true,
	}
)

// Frontmatter is the page metadata carried in a markdown header
type Frontmatter struct {
	Title    string
	Icon     string
	Cover    string
	Tags     []string
	Favorite bool
	Created  *time.Time
	Modified *time.Time
	Extra    map[string]any
}

// flexibleTime accepts the date layouts people write by hand
type flexibleTime struct {
	time.Time
}

func (ft *flexibleTime) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return nil
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, str); err == nil {
			ft.Time = t
			return nil
		}
	}
	return nil // unparseable dates are left empty
}

type rawFrontmatter struct {
	Title    string       `yaml:"title"`
	Icon     string       `yaml:"icon"`
	Cover    string       `yaml:"cover"`
	Tags     any          `yaml:"tags"` // string or list
	Favorite bool         `yaml:"favorite"`
	Created  flexibleTime `yaml:"created"`
	Modified flexibleTime `yaml:"modified"`
}

// ParseFrontmatter splits content into its frontmatter and body. Content
// without a header, or with a header that is not valid YAML, is returned
// whole as the body.
func ParseFrontmatter(content string) (*Frontmatter, string) {
	fm := &Frontmatter{Extra: make(map[string]any)}

	match := frontmatterRegex.FindStringSubmatch(content)
	if match == nil {
		return fm, content
	}
	yamlContent := match[1]
	body := content[len(match[0]):]

	var raw rawFrontmatter
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return fm, content
	}

	fm.Title = strings.TrimSpace(raw.Title)
	fm.Icon = raw.Icon
	fm.Cover = raw.Cover
	fm.Favorite = raw.Favorite
	fm.Tags = normalizeStringArray(raw.Tags)
	if !raw.Created.IsZero() {
		t := raw.Created.Time
		fm.Created = &t
	}
	if !raw.Modified.IsZero() {
		t := raw.Modified.Time
		fm.Modified = &t
	}

	var all map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &all); err == nil {
		for k, v := range all {
			if !knownFields[k] {
				fm.Extra[k] = v
			}
		}
	}
	return fm, body
}

// normalizeStringArray converts a string or list to []string
func normalizeStringArray(v any) []string {
	switch val := v.(type) {
	case string:
		var out []string
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				result = append(result, strings.TrimSpace(s))
			}
		}
		return result
	default:
		return nil
	}
}

// HasFrontmatter checks if content starts with a YAML header
func HasFrontmatter(content string) bool {
	return frontmatterRegex.MatchString(content)
}

// renderedFrontmatter fixes the key order of a written header
type renderedFrontmatter struct {
	Title    string   `yaml:"title"`
	Icon     string   `yaml:"icon,omitempty"`
	Cover    string   `yaml:"cover,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	Favorite bool     `yaml:"favorite,omitempty"`
	Created  string   `yaml:"created,omitempty"`
	Modified string   `yaml:"modified,omitempty"`
}

// RenderFrontmatter writes fm as a --- delimited YAML header
func RenderFrontmatter(fm *Frontmatter) (string, error) {
	out := renderedFrontmatter{
		Title:    fm.Title,
		Icon:     fm.Icon,
		Cover:    fm.Cover,
		Tags:     fm.Tags,
		Favorite: fm.Favorite,
	}
	if fm.Created != nil {
		out.Created = fm.Created.UTC().Format(time.RFC3339)
	}
	if fm.Modified != nil {
		out.Modified = fm.Modified.UTC().Format(time.RFC3339)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	return "---\n" + buf.String() + "---\n", nil
}
