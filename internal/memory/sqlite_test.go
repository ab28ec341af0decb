package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConversationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AppendConversation(ctx, "alice", "hello", "hi there")
	if err != nil {
		t.Fatalf("AppendConversation() error: %v", err)
	}
	if id == "" {
		t.Fatal("AppendConversation() returned empty ID")
	}

	conversations, err := store.RecentConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("RecentConversations() error: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("got %d conversations, want 1", len(conversations))
	}
	c := conversations[0]
	if c.ID != id || c.UserID != "alice" || c.Message != "hello" || c.Response != "hi there" {
		t.Errorf("unexpected conversation: %+v", c)
	}
	if c.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRecentConversationsOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Distinct timestamps so ordering is deterministic.
	for i, msg := range []string{"first", "second", "third"} {
		ts := time.Now().UTC().Add(time.Duration(i) * time.Second)
		_, err := store.db.ExecContext(ctx,
			`INSERT INTO conversations (id, user_id, message, response, timestamp) VALUES (?, ?, ?, ?, ?)`,
			msg, "bob", msg, "ok", ts)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	conversations, err := store.RecentConversations(ctx, "bob", 2)
	if err != nil {
		t.Fatalf("RecentConversations() error: %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("got %d conversations, want 2", len(conversations))
	}
	if conversations[0].Message != "third" || conversations[1].Message != "second" {
		t.Errorf("wrong order: %q, %q", conversations[0].Message, conversations[1].Message)
	}
}

func TestRecentConversationsIsolatesUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendConversation(ctx, "alice", "hers", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendConversation(ctx, "bob", "his", "r2"); err != nil {
		t.Fatal(err)
	}

	conversations, err := store.RecentConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("RecentConversations() error: %v", err)
	}
	if len(conversations) != 1 || conversations[0].Message != "hers" {
		t.Errorf("unexpected conversations: %+v", conversations)
	}
}

func TestUpsertPreferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertPreferences(ctx, "alice", `{"language": "en"}`); err != nil {
		t.Fatalf("UpsertPreferences() error: %v", err)
	}
	if err := store.UpsertPreferences(ctx, "alice", `{"language": "fr"}`); err != nil {
		t.Fatalf("UpsertPreferences() second call error: %v", err)
	}

	p, err := store.GetPreferences(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPreferences() error: %v", err)
	}
	if p.Data != `{"language": "fr"}` {
		t.Errorf("preferences = %q, want latest value", p.Data)
	}

	// Upsert must not accumulate rows.
	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM preferences WHERE user_id = 'alice'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("preference rows = %d, want 1", count)
	}
}

func TestGetPreferencesNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetPreferences(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCountAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.CountConversations(ctx, "")
	if err != nil {
		t.Fatalf("CountConversations() error: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if _, err := store.LatestConversation(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestConversation() on empty store = %v, want ErrNotFound", err)
	}

	if _, err := store.AppendConversation(ctx, "alice", "q1", "a1"); err != nil {
		t.Fatal(err)
	}
	_, err = store.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, message, response, timestamp) VALUES (?, ?, ?, ?, ?)`,
		"later", "bob", "q2", "a2", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	count, err = store.CountConversations(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	count, err = store.CountConversations(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count for alice = %d, want 1", count)
	}

	latest, err := store.LatestConversation(ctx, "bob")
	if err != nil {
		t.Fatalf("LatestConversation() error: %v", err)
	}
	if latest.Message != "q2" {
		t.Errorf("latest message = %q, want %q", latest.Message, "q2")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
