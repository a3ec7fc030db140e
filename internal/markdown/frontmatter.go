package markdown

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---\n"

// Document is a file split into its YAML front matter and body.
type Document struct {
	// Frontmatter is nil when the file has no front matter block.
	Frontmatter map[string]any
	Body        string
}

// SplitFrontmatter separates a leading "---" delimited YAML block from the
// rest of the content. Content without an opening delimiter on the first
// line, or without a closing one, is all body. On a YAML error the whole
// content is returned as body together with the error.
func SplitFrontmatter(content string) (Document, error) {
	if !strings.HasPrefix(content, delimiter) {
		return Document{Body: content}, nil
	}
	rest := content[len(delimiter):]

	var raw, body string
	switch {
	case strings.HasPrefix(rest, delimiter):
		body = rest[len(delimiter):]
	default:
		end := strings.Index(rest, "\n"+delimiter)
		if end < 0 {
			return Document{Body: content}, nil
		}
		raw = rest[:end+1]
		body = rest[end+1+len(delimiter):]
	}

	fm := map[string]any{}
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return Document{Body: content}, fmt.Errorf("parsing front matter: %w", err)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return Document{Frontmatter: fm, Body: body}, nil
}
