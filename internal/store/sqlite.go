package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore backs the Store with SQLite. The default DSN is a private
// in-memory database, so nothing outlives the process unless a file DSN is
// configured explicitly.
type SQLiteStore struct {
	db          *sql.DB
	titleLength int
}

var _ Store = &SQLiteStore{}

// MemoryDSN returns a DSN for a uniquely named shared-cache in-memory database.
func MemoryDSN() string {
	return fmt.Sprintf("file:chat-relay-%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
}

func NewSQLiteStore(dsn string, titleLength int) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = MemoryDSN()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// A single connection keeps the in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, titleLength: titleLength}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conversation ON messages(conversation_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM conversations ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	out := []Conversation{}
	for rows.Next() {
		var (
			id   string
			conv Conversation
		)
		if err := rows.Scan(&id, &conv.Title); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan conversation")
		}
		if conv.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: conversation id %q", id)
		}
		out = append(out, conv)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list conversations")
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}
	defer func() { _ = rows.Close() }()

	out := []Message{}
	for rows.Next() {
		var (
			id   string
			role string
		)
		msg := Message{ConversationID: conversationID}
		if err := rows.Scan(&id, &role, &msg.Content); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		if msg.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: message id %q", id)
		}
		msg.Role = Role(role)
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list messages")
}

func (s *SQLiteStore) EnsureConversation(ctx context.Context, conversationID uuid.UUID, seedTitle string) (Conversation, bool, error) {
	if conversationID == uuid.Nil {
		return Conversation{}, false, errors.New("sqlite store: nil conversation id")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, title, created_at_ms) VALUES (?, ?, ?)`,
		conversationID.String(), DeriveTitle(seedTitle, s.titleLength), time.Now().UnixMilli(),
	)
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "sqlite store: ensure conversation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "sqlite store: ensure conversation")
	}

	conv := Conversation{ID: conversationID}
	err = s.db.QueryRowContext(ctx, `SELECT title FROM conversations WHERE id = ?`, conversationID.String()).Scan(&conv.Title)
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "sqlite store: load conversation")
	}
	return conv, n == 1, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin append")
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, msg.ConversationID.String()).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "sqlite store: check conversation")
	}
	if exists == 0 {
		return errors.Wrapf(ErrUnknownConversation, "%s", msg.ConversationID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.ConversationID.String(), string(msg.Role), msg.Content, time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite store: append message")
	}
	return errors.Wrap(tx.Commit(), "sqlite store: commit append")
}
