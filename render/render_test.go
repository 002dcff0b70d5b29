package render

import (
	"errors"
	"html"
	"io"
	"strings"
	"testing"
)

func TestRenderStructuredSkipsMarkdown(t *testing.T) {
	called := false
	r := NewWithMarkdown(func(src []byte, w io.Writer) error {
		called = true
		_, err := w.Write(src)
		return err
	})
	for _, in := range []string{
		"{\n  \"a\": \"<script>alert(1)</script>\"\n}",
		"  [1, 2, \"**bold**\"]",
	} {
		out, err := r.Render(in)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if called {
			t.Fatalf("markdown invoked for %q", in)
		}
		want := "<pre>" + html.EscapeString(in) + "</pre>"
		if out != want {
			t.Fatalf("got %q want %q", out, want)
		}
		if strings.Contains(out, "<script>") {
			t.Fatalf("unescaped markup in %q", out)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	out, err := New().Render("# Title\n\nSome **bold** text\n\n- one\n- two")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"<h1", "Title", "<strong>bold</strong>", "<li>one</li>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestRenderSanitizes(t *testing.T) {
	r := New()
	in := "Hello <script>alert(1)</script>\n\n<img src=x onerror=alert(1)>\n\n[click](javascript:alert(1))"
	out, err := r.Render(in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	lower := strings.ToLower(out)
	for _, bad := range []string{"<script", "onerror", "javascript:"} {
		if strings.Contains(lower, bad) {
			t.Fatalf("found %q in %q", bad, out)
		}
	}
}

func TestRenderSanitizesConverterOutput(t *testing.T) {
	r := NewWithMarkdown(func(src []byte, w io.Writer) error {
		_, err := io.WriteString(w, `<p onclick="x()">ok</p><script>bad()</script>`)
		return err
	})
	out, err := r.Render("anything")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "<p>ok</p>" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderConverterError(t *testing.T) {
	boom := errors.New("boom")
	r := NewWithMarkdown(func(src []byte, w io.Writer) error { return boom })
	if _, err := r.Render("text"); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestMessageEscapes(t *testing.T) {
	got := New().Message("Server returned 500 <b>")
	if strings.Contains(got, "<b>") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "Server returned 500") {
		t.Fatalf("got %q", got)
	}
}
