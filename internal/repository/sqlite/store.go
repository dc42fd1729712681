// Package sqlite persists chats in a single SQLite file using the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	category   TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT '',
	messages   TEXT,
	PRIMARY KEY (category, id)
);
CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats (category, updated_at);
`

// Store implements the chat repository on SQLite. The transcript is kept as
// a JSON array of turn records; a NULL column means the chat never had one.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open creates the database file and schema when missing.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logging.OrNop(logger).Named("sqlite")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// ListAll loads every chat grouped by category.
func (s *Store) ListAll(ctx context.Context) (map[chat.Category]map[string]*chat.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, id, title, created_at, updated_at, messages FROM chats`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	out := make(map[chat.Category]map[string]*chat.Chat)
	for rows.Next() {
		c, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		bucket, ok := out[c.Category]
		if !ok {
			bucket = make(map[string]*chat.Chat)
			out[c.Category] = bucket
		}
		bucket[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

// Get loads one chat.
func (s *Store) Get(ctx context.Context, category chat.Category, id string) (*chat.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT category, id, title, created_at, updated_at, messages FROM chats WHERE category = ? AND id = ?`,
		string(category), id)

	c, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", chat.ErrNotFound, category, id)
	}
	return c, err
}

// Create inserts c; an existing row is kept as is.
func (s *Store) Create(ctx context.Context, c *chat.Chat) error {
	messages, err := encodeMessages(c.Messages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (category, id, title, created_at, updated_at, messages)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (category, id) DO NOTHING`,
		string(c.Category), c.ID, c.Title, c.CreatedAt, c.UpdatedAt, messages)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// AppendTurns overwrites the stored transcript and bumps updated_at.
func (s *Store) AppendTurns(ctx context.Context, category chat.Category, id string, turns []chat.Turn, updatedAt string) error {
	messages, err := encodeMessages(turns)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (category, id, created_at, updated_at, messages)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (category, id) DO UPDATE SET
		   messages = excluded.messages,
		   updated_at = CASE WHEN excluded.updated_at = '' THEN chats.updated_at ELSE excluded.updated_at END`,
		string(category), id, updatedAt, updatedAt, messages)
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// UpdateFields merges the non-empty fields into the row.
func (s *Store) UpdateFields(ctx context.Context, category chat.Category, id string, fields chat.Fields) error {
	if fields.Empty() {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (category, id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (category, id) DO UPDATE SET
		   title = CASE WHEN excluded.title = '' THEN chats.title ELSE excluded.title END,
		   created_at = CASE WHEN excluded.created_at = '' THEN chats.created_at ELSE excluded.created_at END,
		   updated_at = CASE WHEN excluded.updated_at = '' THEN chats.updated_at ELSE excluded.updated_at END`,
		string(category), id, fields.Title, fields.CreatedAt, fields.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update chat fields: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*chat.Chat, error) {
	var (
		c        chat.Chat
		category string
		messages sql.NullString
	)
	if err := row.Scan(&category, &c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	c.Category = chat.Category(category)

	if messages.Valid {
		var records []chat.Record
		if err := json.Unmarshal([]byte(messages.String), &records); err != nil {
			s.logger.Warn("discarding malformed transcript",
				zap.String("category", category), zap.String("chat_id", c.ID), zap.Error(err))
		} else {
			c.Messages = chat.DecodeTurns(records)
			if c.Messages == nil {
				c.Messages = chat.Transcript{}
			}
		}
	}
	return &c, nil
}

func encodeMessages(turns []chat.Turn) (sql.NullString, error) {
	if turns == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(chat.EncodeTurns(turns))
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode transcript: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
