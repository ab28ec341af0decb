package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/parleyai/parley/internal/memory"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	conversations []memory.Conversation
	preferences   map[string]string
	failing       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{preferences: make(map[string]string)}
}

func (f *fakeStore) AppendConversation(ctx context.Context, userID, message, response string) (string, error) {
	if f.failing {
		return "", memory.ErrUnavailable
	}
	id := fmt.Sprintf("conv-%d", len(f.conversations)+1)
	f.conversations = append(f.conversations, memory.Conversation{
		ID: id, UserID: userID, Message: message, Response: response, Timestamp: time.Now(),
	})
	return id, nil
}

func (f *fakeStore) RecentConversations(ctx context.Context, userID string, limit int) ([]memory.Conversation, error) {
	if f.failing {
		return nil, memory.ErrUnavailable
	}
	var out []memory.Conversation
	for i := len(f.conversations) - 1; i >= 0 && len(out) < limit; i-- {
		if f.conversations[i].UserID == userID {
			out = append(out, f.conversations[i])
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPreferences(ctx context.Context, userID, data string) error {
	if f.failing {
		return memory.ErrUnavailable
	}
	f.preferences[userID] = data
	return nil
}

func (f *fakeStore) GetPreferences(ctx context.Context, userID string) (*memory.Preferences, error) {
	data, ok := f.preferences[userID]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return &memory.Preferences{UserID: userID, Data: data, UpdatedAt: time.Now()}, nil
}

func (f *fakeStore) CountConversations(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return int64(len(f.conversations)), nil
	}
	var n int64
	for _, c := range f.conversations {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LatestConversation(ctx context.Context, userID string) (*memory.Conversation, error) {
	for i := len(f.conversations) - 1; i >= 0; i-- {
		if f.conversations[i].UserID == userID {
			c := f.conversations[i]
			return &c, nil
		}
	}
	return nil, memory.ErrNotFound
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), "no_such_tool", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("error = %v, want unknown tool", err)
	}
}

func TestCalculateTool(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	result, err := r.Execute(ctx, "calculate", map[string]any{"expression": "2+2"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "4" {
		t.Errorf("result = %q, want %q", result, "4")
	}

	// Non-arithmetic input is rejected, not evaluated.
	result, err = r.Execute(ctx, "calculate", map[string]any{"expression": "import os"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "Invalid expression" {
		t.Errorf("result = %q, want %q", result, "Invalid expression")
	}

	if _, err := r.Execute(ctx, "calculate", map[string]any{}); err == nil {
		t.Error("missing expression accepted")
	}
}

func TestGetTimeTool(t *testing.T) {
	r := NewRegistry(nil)
	result, err := r.Execute(context.Background(), "get_time", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if _, err := time.Parse("2006-01-02 15:04:05", result); err != nil {
		t.Errorf("result %q is not a timestamp: %v", result, err)
	}

	result, err = r.Execute(context.Background(), "get_time", map[string]any{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("Execute() with timezone error: %v", err)
	}
	if !strings.HasSuffix(result, " UTC") {
		t.Errorf("result %q does not name the timezone", result)
	}

	if _, err := r.Execute(context.Background(), "get_time", map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("unknown timezone accepted")
	}
}

func TestDatabaseTools(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store)
	ctx := context.Background()

	result, err := r.Execute(ctx, "db_save_conversation", map[string]any{
		"user_id": "alice", "message": "hi", "response": "hello",
	})
	if err != nil {
		t.Fatalf("db_save_conversation error: %v", err)
	}
	if result != "Saved" {
		t.Errorf("result = %q, want %q", result, "Saved")
	}

	result, err = r.Execute(ctx, "db_get_history", map[string]any{"user_id": "alice"})
	if err != nil {
		t.Fatalf("db_get_history error: %v", err)
	}
	if !strings.Contains(result, `"msg":"hi"`) {
		t.Errorf("history %q missing saved message", result)
	}

	result, err = r.Execute(ctx, "db_get_history", map[string]any{"user_id": "nobody"})
	if err != nil {
		t.Fatalf("db_get_history error: %v", err)
	}
	if result != "No history" {
		t.Errorf("result = %q, want %q", result, "No history")
	}

	result, err = r.Execute(ctx, "db_save_preference", map[string]any{
		"user_id": "alice", "preferences": `{"lang": "en"}`,
	})
	if err != nil {
		t.Fatalf("db_save_preference error: %v", err)
	}
	if result != "Saved" {
		t.Errorf("result = %q, want %q", result, "Saved")
	}
	if store.preferences["alice"] != `{"lang": "en"}` {
		t.Errorf("stored preferences = %q", store.preferences["alice"])
	}
}

func TestDatabaseToolsTruncateExcerpts(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store)
	ctx := context.Background()

	long := strings.Repeat("x", 500)
	if _, err := store.AppendConversation(ctx, "alice", long, long); err != nil {
		t.Fatal(err)
	}

	result, err := r.Execute(ctx, "db_get_history", map[string]any{"user_id": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(result, strings.Repeat("x", 101)) {
		t.Error("history excerpt exceeds 100 characters")
	}
}

func TestDatabaseToolsDegradeGracefully(t *testing.T) {
	ctx := context.Background()

	// Tool failures surface as content, not errors, so the agent loop
	// keeps running when the store is down.
	for _, r := range []*Registry{NewRegistry(nil), NewRegistry(&fakeStore{failing: true, preferences: map[string]string{}})} {
		result, err := r.Execute(ctx, "db_save_conversation", map[string]any{
			"user_id": "alice", "message": "hi", "response": "hello",
		})
		if err != nil {
			t.Fatalf("db_save_conversation error: %v", err)
		}
		if !strings.HasPrefix(result, "Not saved:") {
			t.Errorf("result = %q, want Not saved prefix", result)
		}

		result, err = r.Execute(ctx, "db_get_history", map[string]any{"user_id": "alice"})
		if err != nil {
			t.Fatalf("db_get_history error: %v", err)
		}
		if !strings.HasPrefix(result, "No history available:") {
			t.Errorf("result = %q, want No history available prefix", result)
		}
	}
}

func TestCurrencyConvertTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/USD") {
			t.Errorf("path = %q, want /v4/latest/USD suffix", r.URL.Path)
		}
		fmt.Fprint(w, `{"rates": {"EUR": 0.5, "GBP": 0.4}}`)
	}))
	defer server.Close()

	r := NewRegistry(nil)
	// Redirect the fixed upstream host to the test server.
	r.httpClient = &http.Client{Transport: rewriteTransport{target: server.URL}}

	result, err := r.Execute(context.Background(), "currency_convert", map[string]any{
		"amount": 10.0, "from_curr": "USD", "to_curr": "EUR",
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "5.00 EUR" {
		t.Errorf("result = %q, want %q", result, "5.00 EUR")
	}

	result, err = r.Execute(context.Background(), "currency_convert", map[string]any{
		"amount": 10.0, "from_curr": "USD", "to_curr": "XYZ",
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "Currency XYZ not found" {
		t.Errorf("result = %q", result)
	}
}

type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := url.Parse(rt.target)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestListFormat(t *testing.T) {
	r := NewRegistry(nil)
	list := r.List()
	if len(list) == 0 {
		t.Fatal("List() returned no tools")
	}
	for _, entry := range list {
		if entry["type"] != "function" {
			t.Errorf("entry type = %v, want function", entry["type"])
		}
		fn, ok := entry["function"].(map[string]any)
		if !ok {
			t.Fatalf("entry missing function: %v", entry)
		}
		if fn["name"] == "" || fn["description"] == "" {
			t.Errorf("incomplete function definition: %v", fn)
		}
	}
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry(nil)
	names := r.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
	want := []string{"calculate", "currency_convert", "db_get_history", "db_save_conversation", "db_save_preference", "get_joke", "get_time"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short ascii", "hello", 10, "hello"},
		{"exact ascii", "hello", 5, "hello"},
		{"cut ascii", "hello world", 5, "hello"},
		{"cut mid-rune", "cafés", 4, "caf"},      // é is 2 bytes; byte 4 splits it
		{"cut after rune", "cafés", 5, "café"},
		{"cut mid-emoji", "ok \U0001F600!", 5, "ok "}, // 😀 is 4 bytes starting at 3
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}

func TestHistoryExcerptsStayValidUTF8(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)

	// 120 two-byte runes; a byte-indexed cut at 100 would land mid-rune.
	long := strings.Repeat("é", 120)
	store.conversations = append(store.conversations, memory.Conversation{
		ID: "c1", UserID: "alice", Message: long, Response: long,
		Timestamp: time.Now().UTC(),
	})

	out, err := registry.Execute(context.Background(), "db_get_history", map[string]any{"user_id": "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !utf8.ValidString(out) {
		t.Errorf("history output is not valid UTF-8: %q", out)
	}
}
