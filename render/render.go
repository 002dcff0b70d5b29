// Package render converts normalized results into markup that is safe to hand to a display layer.
package render

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MarkdownFunc converts markdown source to HTML.
type MarkdownFunc func(src []byte, w io.Writer) error

type Renderer struct {
	markdown MarkdownFunc
	policy   *bluemonday.Policy
}

// New returns a renderer using goldmark with GitHub-flavoured extensions.
func New() *Renderer {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	return NewWithMarkdown(func(src []byte, w io.Writer) error {
		return md.Convert(src, w)
	})
}

func NewWithMarkdown(fn MarkdownFunc) *Renderer {
	return &Renderer{
		markdown: fn,
		policy:   bluemonday.UGCPolicy(),
	}
}

// Structured reports whether s looks like a JSON object or array the service failed to summarize.
func Structured(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// Render returns display markup for a normalized result. Structured payloads are escaped into a
// <pre> block and never reach the markdown converter; everything else is converted and then
// sanitized.
func (r *Renderer) Render(normalized string) (string, error) {
	if Structured(normalized) {
		return Preformatted(normalized), nil
	}
	var buf bytes.Buffer
	if err := r.markdown([]byte(normalized), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Preformatted escapes s for literal display.
func Preformatted(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

// Message renders a local status or error message. It goes through the same sanitizer so no
// path to the display layer skips it.
func (r *Renderer) Message(s string) string {
	return r.policy.Sanitize(html.EscapeString(s))
}
