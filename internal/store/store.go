// Package store provides SQLite-backed persistence for conversations and
// their messages. Messages are append-only: the pipeline writes one row per
// user turn and one per completed assistant turn, and nothing ever updates
// or reorders them afterwards.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/mentora-app/mentora-go/internal/rag"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the human.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Conversation is one chat thread owned by a user.
type Conversation struct {
	// ID is the conversation's UUID.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// Title is the optional user-visible name of the thread.
	Title string `json:"title"`
	// CreatedAt and UpdatedAt are persistence timestamps.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single turn in a conversation.
type Message struct {
	// ID is the message's UUID.
	ID string `json:"id"`
	// ConversationID is the owning conversation.
	ConversationID string `json:"conversationId"`
	// UserID is the owning user, denormalized for access checks.
	UserID string `json:"userId"`
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// Passages lists the retrieved passages that grounded this turn.
	// Only set on user messages; empty otherwise.
	Passages []rag.PassageRef `json:"relevantPassages,omitempty"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationStore persists conversations and their messages.
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// CreateConversation creates a thread for the user with an optional title.
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	// ListConversations returns the user's threads, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	// GetConversation returns one thread, or sql.ErrNoRows if absent.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// RenameConversation updates the thread title.
	RenameConversation(ctx context.Context, id, title string) error
	// DeleteConversation removes the thread and all its messages.
	DeleteConversation(ctx context.Context, id string) error
	// AppendMessage persists one turn and bumps the thread's updated_at.
	AppendMessage(ctx context.Context, m *Message) error
	// Messages returns a thread's turns in chronological order.
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the conversation database.
// It resolves to ~/.mentora/mentora.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".mentora")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "mentora.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the connection pool so the quota ledger can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT    PRIMARY KEY,
    user_id     TEXT    NOT NULL,
    title       TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
    ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT    PRIMARY KEY,
    conversation_id TEXT    NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    user_id         TEXT    NOT NULL,
    role            TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content         TEXT    NOT NULL,
    metadata        TEXT,              -- JSON: retrieved passage refs + scores
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages (conversation_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateConversation creates a thread for the user with an optional title.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const q = `INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.UserID, c.Title, now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's threads, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const q = `
SELECT id, user_id, title, created_at, updated_at
FROM   conversations
WHERE  user_id = ?
ORDER  BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0)
		c.UpdatedAt = time.Unix(updated, 0)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return convs, nil
}

// GetConversation returns one thread, or sql.ErrNoRows if absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const q = `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`
	var c Conversation
	var created, updated int64
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}

// RenameConversation updates the thread title.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	const q = `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, title, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("store: rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the thread and all its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	// Delete messages explicitly — SQLite only honours ON DELETE CASCADE
	// when foreign keys are enabled, which the driver does not guarantee.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	return nil
}

// messageMetadata is the JSON shape stored in the messages.metadata column.
type messageMetadata struct {
	RelevantPassages []rag.PassageRef `json:"relevantPassages,omitempty"`
}

// AppendMessage persists one turn. The message ID and timestamp are
// assigned here if unset. The owning conversation's updated_at is bumped so
// active threads sort first in listings.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	var metadata sql.NullString
	if len(m.Passages) > 0 {
		raw, err := json.Marshal(messageMetadata{RelevantPassages: m.Passages})
		if err != nil {
			return fmt.Errorf("store: marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	const q = `
INSERT INTO messages (id, conversation_id, user_id, role, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		m.ID, m.ConversationID, m.UserID, string(m.Role), m.Content, metadata, m.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}

	const bump = `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, bump, m.CreatedAt.Unix(), m.ConversationID); err != nil {
		return fmt.Errorf("store: bump conversation: %w", err)
	}
	return nil
}

// Messages returns a thread's turns in chronological order. Insertion order
// breaks ties between turns persisted within the same second.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	const q = `
SELECT id, conversation_id, user_id, role, content, metadata, created_at
FROM   messages
WHERE  conversation_id = ?
ORDER  BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		var metadata sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &role, &m.Content, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("store: messages scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		if metadata.Valid && metadata.String != "" {
			var meta messageMetadata
			if err := json.Unmarshal([]byte(metadata.String), &meta); err != nil {
				return nil, fmt.Errorf("store: messages metadata: %w", err)
			}
			m.Passages = meta.RelevantPassages
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages rows: %w", err)
	}
	return msgs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
