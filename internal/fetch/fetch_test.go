package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/parleyai/parley/internal/tools"
)

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "42" {
			t.Errorf("id param = %q, want 42", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"go","tags":["fast","typed"]}`)
	}))
	defer server.Close()

	f := New()
	result, err := f.Get(context.Background(), server.URL, url.Values{"id": {"42"}})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	// JSON is pretty-printed.
	if !strings.Contains(result.Content, "\"name\": \"go\"") {
		t.Errorf("content not indented:\n%s", result.Content)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", result.StatusCode)
	}
}

func TestGetHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Page</title><script>var x = 1;</script></head>
			<body><nav>menu</nav><p>First paragraph.</p><p>Second paragraph.</p></body></html>`)
	}))
	defer server.Close()

	f := New()
	result, err := f.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !strings.Contains(result.Content, "First paragraph.") {
		t.Errorf("content missing body text:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "var x") || strings.Contains(result.Content, "menu") {
		t.Errorf("content contains boilerplate:\n%s", result.Content)
	}
}

func TestGetErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	f := New()
	if _, err := f.Get(context.Background(), server.URL, nil); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestExtractHTMLTitle(t *testing.T) {
	title, text := extractHTML(`<html><head><title> My Title </title></head><body><p>Hello</p></body></html>`)
	if title != "My Title" {
		t.Errorf("title = %q, want %q", title, "My Title")
	}
	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
}

func TestToolTruncatesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("z", 5000))
	}))
	defer server.Close()

	registry := tools.NewRegistry(nil)
	RegisterTool(registry, New())

	result, err := registry.Execute(context.Background(), "http_get", map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(result) != toolMaxChars+3 || !strings.HasSuffix(result, "...") {
		t.Errorf("result length = %d, want %d plus ellipsis", len(result), toolMaxChars)
	}
}

func TestToolParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("city"); got != "Paris" {
			t.Errorf("city param = %q, want Paris", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	registry := tools.NewRegistry(nil)
	RegisterTool(registry, New())

	if _, err := registry.Execute(context.Background(), "http_get", map[string]any{
		"url": server.URL, "params": `{"city": "Paris"}`,
	}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if _, err := registry.Execute(context.Background(), "http_get", map[string]any{
		"url": server.URL, "params": `not json`,
	}); err == nil {
		t.Error("invalid params accepted")
	}
}
