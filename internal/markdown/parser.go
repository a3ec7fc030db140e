// Package markdown extracts YAML front matter and a heading outline from
// markdown files. Nothing here renders HTML.
package markdown

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// maxOneLiner bounds the summary sentence taken from the first paragraph.
const maxOneLiner = 160

var (
	anchorStrip = regexp.MustCompile(`[^a-z0-9\-\p{Han}\p{Hiragana}\p{Katakana}]`)
	anchorDash  = regexp.MustCompile(`-+`)
)

// Heading is one entry of a document outline
type Heading struct {
	Level  int    `json:"level" msgpack:"level"`
	Title  string `json:"title" msgpack:"title"`
	Anchor string `json:"anchor" msgpack:"anchor"`
}

// Outline is the structural summary of a markdown body
type Outline struct {
	Title    string    `json:"title"`
	OneLiner string    `json:"one_liner"`
	Headings []Heading `json:"headings"`
}

// Parser walks goldmark ASTs
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a new markdown parser with GFM extensions
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	return &Parser{md: md}
}

// Outline extracts headings, the title (first heading) and a one-liner
// (text of the first paragraph) from a markdown body
func (p *Parser) Outline(source []byte) Outline {
	reader := text.NewReader(source)
	doc := p.md.Parser().Parse(reader)

	var out Outline
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			title := extractText(node, source)
			out.Headings = append(out.Headings, Heading{
				Level:  node.Level,
				Title:  title,
				Anchor: generateAnchor(title),
			})
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if out.OneLiner == "" {
				out.OneLiner = truncate(extractText(node, source), maxOneLiner)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Outline{}
	}

	if len(out.Headings) > 0 {
		out.Title = out.Headings[0].Title
	}
	return out
}

// extractText concatenates the text of all inline descendants of a node
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}

// generateAnchor creates a URL-safe anchor from text
func generateAnchor(text string) string {
	anchor := strings.ToLower(text)
	anchor = strings.ReplaceAll(anchor, " ", "-")
	anchor = anchorStrip.ReplaceAllString(anchor, "")
	anchor = anchorDash.ReplaceAllString(anchor, "-")
	return strings.Trim(anchor, "-")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
