package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SessionStore persists support sessions and their transcripts.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session. An empty ID is replaced with a generated one;
// an empty status defaults to waiting.
func (s *SessionStore) Create(sess domain.ChatSession) (*domain.ChatSession, error) {
	if sess.ID == "" {
		sess.ID = "sess_" + uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = domain.StatusWaiting
	}
	if sess.Priority == "" {
		sess.Priority = domain.PriorityNormal
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.sql.Exec(
		`INSERT INTO support_sessions (id, affiliate_id, affiliate_name, affiliate_email, subject, status, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AffiliateID, sess.AffiliateName, sess.AffiliateEmail, sess.Subject,
		string(sess.Status), sess.Priority,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return &sess, nil
}

// Get returns a session by ID, or ErrNotFound.
func (s *SessionStore) Get(id string) (*domain.ChatSession, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, affiliate_id, affiliate_name, affiliate_email, subject, status, priority, created_at, updated_at
		 FROM support_sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns sessions ordered by most recent activity. An empty status
// lists every session.
func (s *SessionStore) List(status domain.SessionStatus, limit int) ([]domain.ChatSession, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.sql.Query(
			`SELECT id, affiliate_id, affiliate_name, affiliate_email, subject, status, priority, created_at, updated_at
			 FROM support_sessions WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
			string(status), limit,
		)
	} else {
		rows, err = s.db.sql.Query(
			`SELECT id, affiliate_id, affiliate_name, affiliate_email, subject, status, priority, created_at, updated_at
			 FROM support_sessions ORDER BY updated_at DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// SetStatus updates a session's status.
func (s *SessionStore) SetStatus(id string, status domain.SessionStatus) error {
	res, err := s.db.sql.Exec(
		`UPDATE support_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage adds a message to a session transcript and returns it with
// its ID and timestamp filled in.
func (s *SessionStore) AppendMessage(msg domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.New().String()
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageTypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.sql.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO support_messages (id, session_id, sender_type, sender_name, content, message_type, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.SenderType), msg.SenderName, msg.Content, msg.MessageType,
		msg.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE support_sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), msg.SessionID,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns a session transcript in insertion order.
func (s *SessionStore) Messages(sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, session_id, sender_type, sender_name, content, message_type, timestamp
		 FROM support_messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		var sender, ts string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &sender, &msg.SenderName, &msg.Content, &msg.MessageType, &ts); err != nil {
			return nil, err
		}
		msg.SenderType = domain.SenderType(sender)
		msg.Timestamp, _ = time.Parse(timeLayout, ts)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var status, createdAt, updatedAt string
	if err := row.Scan(
		&sess.ID, &sess.AffiliateID, &sess.AffiliateName, &sess.AffiliateEmail,
		&sess.Subject, &status, &sess.Priority, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &sess, nil
}
