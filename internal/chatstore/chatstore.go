// Package chatstore persists chat conversations, messages, and app memory in
// PostgreSQL.
//
// Conversations use soft delete: a deleted conversation stays in the table
// with is_deleted=true so its messages remain auditable, and all read paths
// filter it out. App memory is a key/value table with upsert-on-write used to
// inject durable facts into chat prompts.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the chat tables. Execute it via [Store.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         BIGSERIAL PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id),
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
CREATE TABLE IF NOT EXISTS app_memory (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ErrNotFound is returned when a conversation does not exist or is deleted.
var ErrNotFound = errors.New("chatstore: not found")

// Conversation is one chat thread.
type Conversation struct {
	ID        int64
	Title     string
	CreatedAt time.Time
	IsDeleted bool
}

// Message is one chat turn. Role is "user" or "assistant".
type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL-backed chat store. All operations are safe for
// concurrent use.
type Store struct {
	db DB
}

// NewStore creates a [Store] over an existing connection or pool. The caller
// is responsible for calling [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Connect establishes a connection pool to the database at dsn, pings it, and
// runs [Store.Migrate]. The returned pool must be closed by the caller.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("chatstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("chatstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("chatstore: ping: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL, creating the chat tables if they do not
// already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("chatstore: migrate: %w", err)
	}
	return nil
}

// ─── conversations ────────────────────────────────────────────────────────────

// CreateConversation inserts a new conversation and returns it.
func (s *Store) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	var c Conversation
	c.Title = title
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations (title) VALUES ($1) RETURNING id, created_at`,
		title,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("chatstore: create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a live conversation by id. Deleted conversations
// yield [ErrNotFound].
func (s *Store) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx,
		`SELECT id, title, created_at, is_deleted
		   FROM conversations WHERE id = $1 AND NOT is_deleted`,
		id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("%w: conversation %d", ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("chatstore: get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all live conversations, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, title, created_at, is_deleted
		   FROM conversations WHERE NOT is_deleted
		  ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("chatstore: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.IsDeleted); err != nil {
			return nil, fmt.Errorf("chatstore: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatstore: list conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation soft-deletes a conversation. Its messages stay on disk
// but the conversation disappears from every read path.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET is_deleted = true WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("chatstore: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: conversation %d", ErrNotFound, id)
	}
	return nil
}

// ─── messages ─────────────────────────────────────────────────────────────────

// AppendMessage inserts one message into a conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role, content string) (Message, error) {
	if role != "user" && role != "assistant" {
		return Message{}, fmt.Errorf("chatstore: invalid role %q", role)
	}
	m := Message{ConversationID: conversationID, Role: role, Content: content}
	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		conversationID, role, content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("chatstore: append message: %w", err)
	}
	return m, nil
}

// Messages returns a conversation's messages ordered by created_at then id.
// limit <= 0 returns everything.
func (s *Store) Messages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	q := `SELECT id, conversation_id, role, content, created_at
	        FROM messages WHERE conversation_id = $1
	       ORDER BY created_at, id`
	args := []any{conversationID}
	if limit > 0 {
		// Keep ordering stable while bounding the result to the newest turns.
		q = `SELECT id, conversation_id, role, content, created_at FROM (
		       SELECT id, conversation_id, role, content, created_at
		         FROM messages WHERE conversation_id = $1
		        ORDER BY created_at DESC, id DESC LIMIT $2
		     ) tail ORDER BY created_at, id`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("chatstore: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatstore: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatstore: list messages: %w", err)
	}
	return out, nil
}

// ─── app memory ───────────────────────────────────────────────────────────────

// SetMemory upserts one key/value pair. Empty values are rejected; use
// [Store.DeleteMemory] to remove a key.
func (s *Store) SetMemory(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("chatstore: memory key must not be empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("chatstore: memory value must not be empty")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO app_memory (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("chatstore: set memory: %w", err)
	}
	return nil
}

// DeleteMemory removes one key. Missing keys are not an error.
func (s *Store) DeleteMemory(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM app_memory WHERE key = $1`, key); err != nil {
		return fmt.Errorf("chatstore: delete memory: %w", err)
	}
	return nil
}

// AllMemory returns every key/value pair, ordered by key, for prompt
// injection.
func (s *Store) AllMemory(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM app_memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("chatstore: list memory: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("chatstore: scan memory: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatstore: list memory: %w", err)
	}
	return out, nil
}
