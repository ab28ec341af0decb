// Package memory provides durable conversation and preference storage.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store cannot be reached. Callers
// treat this as a degraded condition, not a fatal one: the agent keeps
// answering without history.
var ErrUnavailable = errors.New("memory store unavailable")

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one user/assistant exchange.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Preferences holds a user's stored preference payload. The payload is
// opaque to the store; callers decide its structure.
type Preferences struct {
	UserID    string    `json:"user_id"`
	Data      string    `json:"preferences"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract for conversations and preferences.
type Store interface {
	// AppendConversation records one exchange and returns its ID.
	AppendConversation(ctx context.Context, userID, message, response string) (string, error)

	// RecentConversations returns up to limit exchanges for a user,
	// newest first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)

	// UpsertPreferences replaces the stored preference payload for a
	// user, creating the record if absent.
	UpsertPreferences(ctx context.Context, userID, data string) error

	// GetPreferences returns a user's preference payload, or
	// ErrNotFound when none has been stored.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)

	// CountConversations returns the number of stored exchanges for a
	// user, or across all users when userID is empty.
	CountConversations(ctx context.Context, userID string) (int64, error)

	// LatestConversation returns a user's most recent exchange, or
	// ErrNotFound when the user has none.
	LatestConversation(ctx context.Context, userID string) (*Conversation, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	Close() error
}
