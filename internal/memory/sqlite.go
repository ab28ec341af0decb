package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	-- Conversation exchanges
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, timestamp);

	-- One preference payload per user
	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		preferences TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) AppendConversation(ctx context.Context, userID, message, response string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, message, response, timestamp) VALUES (?, ?, ?, ?, ?)`,
		id, userID, message, response, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, timestamp
		 FROM conversations WHERE user_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Message, &c.Response, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *SQLiteStore) UpsertPreferences(ctx context.Context, userID, data string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, preferences, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		userID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var p Preferences
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, preferences, updated_at FROM preferences WHERE user_id = ?`,
		userID).Scan(&p.UserID, &p.Data, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) CountConversations(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM conversations`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) LatestConversation(ctx context.Context, userID string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, message, response, timestamp
		 FROM conversations WHERE user_id = ?
		 ORDER BY timestamp DESC LIMIT 1`, userID).
		Scan(&c.ID, &c.UserID, &c.Message, &c.Response, &c.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
