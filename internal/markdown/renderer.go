// Package markdown renders the server's human-facing pages from markdown.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Page is a rendered markdown document.
type Page struct {
	// Title is the text of the first top-level heading.
	Title string
	// TOC is an HTML list linking to the H2 and H3 sections, empty when the
	// document has none.
	TOC string
	// Body is the document as HTML.
	Body string
}

// Renderer converts markdown to HTML with heading anchors.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with auto heading ids.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// Render parses source once and renders the body and its table of contents.
func (r *Renderer) Render(source []byte) (*Page, error) {
	doc := r.md.Parser().Parse(text.NewReader(source))
	page := &Page{Title: firstTitle(doc, source)}

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(2),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}
	if list := toc.RenderList(tree); list != nil {
		var buf bytes.Buffer
		if err := r.md.Renderer().Render(&buf, source, list); err != nil {
			return nil, fmt.Errorf("render TOC: %w", err)
		}
		page.TOC = buf.String()
	}

	var body bytes.Buffer
	if err := r.md.Renderer().Render(&body, source, doc); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	page.Body = body.String()
	return page, nil
}

// firstTitle returns the text of the first H1, or "" when there is none.
func firstTitle(doc ast.Node, source []byte) string {
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			continue
		}
		var buf bytes.Buffer
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return buf.String()
	}
	return ""
}
