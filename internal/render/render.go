// Package render turns item bodies written in Markdown into HTML.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/K4mp47/poetry-cms/internal/model"
)

// Renderer converts Markdown with GitHub extensions. Single line breaks are
// kept, so verse renders line by line. Raw HTML in bodies is not passed
// through.
type Renderer struct {
	md goldmark.Markdown
}

// New returns a ready Renderer.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
			),
		),
	}
}

// HTML renders body.
func (r *Renderer) HTML(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// Page renders item into a page view.
func (r *Renderer) Page(item model.ContentItem) (model.ItemPage, error) {
	html, err := r.HTML(item.Body)
	if err != nil {
		return model.ItemPage{}, fmt.Errorf("render %s: %w", item.ID, err)
	}
	return model.ItemPage{ContentItem: item, HTML: html}, nil
}
