package builtin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools"
)

// ── htmlToText ──

func TestHtmlToText_HeadingsAndParagraphs(t *testing.T) {
	input := `<html><body>
<h1>Main Title</h1>
<h2>Sub Section</h2>
<p>This is a paragraph with <strong>bold</strong> text.</p>
</body></html>`

	got := htmlToText([]byte(input))
	if !strings.Contains(got, "# Main Title") {
		t.Errorf("missing h1: %q", got)
	}
	if !strings.Contains(got, "## Sub Section") {
		t.Errorf("missing h2: %q", got)
	}
	if !strings.Contains(got, "paragraph") {
		t.Errorf("missing paragraph text: %q", got)
	}
}

func TestHtmlToText_SkipsScriptStyle(t *testing.T) {
	input := `<html><head><style>body{color:red}</style></head>
<body><script>alert("x")</script><p>Real content here.</p></body></html>`

	got := htmlToText([]byte(input))
	if strings.Contains(got, "alert") || strings.Contains(got, "color:red") {
		t.Errorf("script/style leaked: %q", got)
	}
	if !strings.Contains(got, "Real content here") {
		t.Errorf("paragraph dropped: %q", got)
	}
}

func TestHtmlToText_Links(t *testing.T) {
	got := htmlToText([]byte(`<p><a href="https://golang.org">Go website</a></p>`))
	if !strings.Contains(got, "Go website") || !strings.Contains(got, "golang.org") {
		t.Errorf("link rendering: %q", got)
	}
}

func TestHtmlToText_Lists(t *testing.T) {
	input := `<ul><li>Item one</li><li>Item two</li></ul>
<ol><li>First</li><li>Second</li></ol>`

	got := htmlToText([]byte(input))
	if !strings.Contains(got, "• Item one") {
		t.Errorf("unordered list: %q", got)
	}
	if !strings.Contains(got, "1. First") || !strings.Contains(got, "2. Second") {
		t.Errorf("ordered list: %q", got)
	}
}

func TestHtmlToText_CodeBlocks(t *testing.T) {
	got := htmlToText([]byte("<pre><code>func main() {}</code></pre>"))
	if !strings.Contains(got, "```") || !strings.Contains(got, "func main()") {
		t.Errorf("code block: %q", got)
	}
}

func TestCleanWhitespace(t *testing.T) {
	got := cleanWhitespace("  line one  \n\n\n\n  line two  ")
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank lines not collapsed: %q", got)
	}
	if !strings.HasPrefix(got, "line one") {
		t.Errorf("not trimmed: %q", got)
	}
}

// ── Execute ──

func TestWebFetch_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Test Page</h1><p>Hello from the server.</p></body></html>`))
	}))
	defer srv.Close()

	res, err := NewWebFetchTool().Execute(t.Context(), map[string]any{"url": srv.URL}, tools.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK || !strings.Contains(res.Text, "Test Page") {
		t.Errorf("result = %+v", res)
	}
}

func TestWebFetch_404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", 404)
	}))
	defer srv.Close()

	res, _ := NewWebFetchTool().Execute(t.Context(), map[string]any{"url": srv.URL}, tools.Context{})
	if res.OK {
		t.Errorf("404 should fail: %q", res.Text)
	}
}

func TestWebFetch_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just plain text content"))
	}))
	defer srv.Close()

	res, _ := NewWebFetchTool().Execute(t.Context(), map[string]any{"url": srv.URL}, tools.Context{})
	if !strings.Contains(res.Text, "plain text content") {
		t.Errorf("plain text result = %q", res.Text)
	}
}

func TestWebFetch_Truncation(t *testing.T) {
	big := strings.Repeat("x", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(big))
	}))
	defer srv.Close()

	res, _ := NewWebFetchTool().Execute(t.Context(), map[string]any{
		"url":       srv.URL,
		"max_bytes": float64(1024),
	}, tools.Context{})
	if !strings.Contains(res.Text, "truncated") {
		t.Errorf("should mention truncation: %q", res.Text)
	}
}

func TestWebFetch_MissingURL(t *testing.T) {
	res, _ := NewWebFetchTool().Execute(t.Context(), map[string]any{}, tools.Context{})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}
