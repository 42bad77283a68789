// Package db archives received messages in SQLite so past sessions can be
// listed and searched with `burrow history`.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/epalmerini/burrow/internal/xdg"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    client_name TEXT NOT NULL,
    amqp_url    TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    ended_at    DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    exchange     TEXT NOT NULL,
    routing_key  TEXT NOT NULL,
    body         BLOB NOT NULL,
    content_type TEXT,
    headers      TEXT,
    timestamp    DATETIME,
    consumed_at  DATETIME NOT NULL,
    proto_type   TEXT,
    message_id   TEXT,
    app_id       TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_exchange ON messages(exchange);
`

// Store defines the interface for message persistence
type Store interface {
	CreateSession(ctx context.Context, clientName, amqpURL string) (int64, error)
	EndSession(ctx context.Context, sessionID int64) error
	ListRecentSessions(ctx context.Context, limit int64) ([]Session, error)
	InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error)
	ListMessagesBySession(ctx context.Context, sessionID, limit, offset int64) ([]Message, error)
	SearchMessages(ctx context.Context, query string, sessionID, limit int64) ([]Message, error)
	Close() error
}

// MessageRecord represents a message to be inserted
type MessageRecord struct {
	SessionID   int64
	Exchange    string
	RoutingKey  string
	Body        []byte
	ContentType string
	Headers     map[string]any
	Timestamp   time.Time // publisher timestamp, may be zero
	ConsumedAt  time.Time // capture time, defaults to insert time
	ProtoType   string
	MessageID   string
	AppID       string
}

// Session is one burrow run.
type Session struct {
	ID           int64
	ClientName   string
	AmqpURL      string
	StartedAt    time.Time
	EndedAt      sql.NullTime
	MessageCount int64
}

// Message is an archived delivery.
type Message struct {
	ID          int64
	SessionID   int64
	Exchange    string
	RoutingKey  string
	Body        []byte
	ContentType sql.NullString
	Headers     sql.NullString
	Timestamp   sql.NullTime
	ConsumedAt  time.Time
	ProtoType   sql.NullString
	MessageID   sql.NullString
	AppID       sql.NullString
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewStore opens the archive at customPath, or burrow.db in the XDG data
// directory when customPath is empty.
func NewStore(customPath string) (*SQLiteStore, error) {
	dbPath := customPath
	if dbPath == "" {
		var err error
		if dbPath, err = xdg.File(xdg.Data, "burrow.db", true); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps PRAGMAs in effect and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to set pragmas: %w", err), db.Close())
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize schema: %w", err), db.Close())
	}

	return &SQLiteStore{db: db}, nil
}

// SanitizeAMQPURL removes password from AMQP URL for storage
func SanitizeAMQPURL(amqpURL string) string {
	u, err := url.Parse(amqpURL)
	if err != nil {
		return amqpURL
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, clientName, amqpURL string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (client_name, amqp_url, started_at) VALUES (?, ?, ?)`,
		clientName, SanitizeAMQPURL(amqpURL), time.Now())
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) EndSession(ctx context.Context, sessionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now(), sessionID)
	return err
}

func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit int64) (_ []Session, err error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.client_name, s.amqp_url, s.started_at, s.ended_at,
       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
FROM sessions s
ORDER BY s.id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.ClientName, &ss.AmqpURL, &ss.StartedAt, &ss.EndedAt, &ss.MessageCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error) {
	var headersJSON sql.NullString
	if len(msg.Headers) > 0 {
		data, err := json.Marshal(msg.Headers)
		if err == nil {
			headersJSON = sql.NullString{String: string(data), Valid: true}
		}
	}

	body := msg.Body
	if body == nil {
		body = []byte{}
	}

	consumedAt := msg.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages (session_id, exchange, routing_key, body, content_type, headers,
                      timestamp, consumed_at, proto_type, message_id, app_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Exchange, msg.RoutingKey, body,
		toNullString(msg.ContentType), headersJSON, toNullTime(msg.Timestamp), consumedAt,
		toNullString(msg.ProtoType), toNullString(msg.MessageID), toNullString(msg.AppID))
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

const messageColumns = `
SELECT id, session_id, exchange, routing_key, body, content_type, headers,
       timestamp, consumed_at, proto_type, message_id, app_id
FROM messages`

// ListMessagesBySession returns a session's messages oldest first.
func (s *SQLiteStore) ListMessagesBySession(ctx context.Context, sessionID, limit, offset int64) ([]Message, error) {
	return s.scanMessages(ctx, messageColumns+`
WHERE session_id = ?
ORDER BY id ASC
LIMIT ? OFFSET ?`, sessionID, limit, offset)
}

// SearchMessages matches query as a case-insensitive substring of the body
// or routing key. A sessionID of 0 searches every session.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, sessionID, limit int64) ([]Message, error) {
	return s.scanMessages(ctx, messageColumns+`
WHERE (instr(lower(CAST(body AS TEXT)), lower(?1)) > 0 OR instr(lower(routing_key), lower(?1)) > 0)
  AND (?2 = 0 OR session_id = ?2)
ORDER BY id DESC
LIMIT ?3`, query, sessionID, limit)
}

func (s *SQLiteStore) scanMessages(ctx context.Context, query string, args ...any) (_ []Message, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Exchange, &m.RoutingKey, &m.Body, &m.ContentType,
			&m.Headers, &m.Timestamp, &m.ConsumedAt, &m.ProtoType, &m.MessageID, &m.AppID,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
