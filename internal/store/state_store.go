package store

import (
	"database/sql"
	"errors"
	"sync"
	"time"
)

// StateStore is a small key/value store for client-local state, such as the
// last session id an affiliate had open.
type StateStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// SQLiteStateStore implements StateStore on the client_state table.
type SQLiteStateStore struct {
	db *DB
}

// NewSQLiteStateStore creates a state store using the given database.
func NewSQLiteStateStore(db *DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: db}
}

func (s *SQLiteStateStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.sql.QueryRow(`SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStateStore) Set(key, value string) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (s *SQLiteStateStore) Delete(key string) error {
	_, err := s.db.sql.Exec(`DELETE FROM client_state WHERE key = ?`, key)
	return err
}

// MemoryStateStore keeps state for the lifetime of the process only.
type MemoryStateStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[string]string)}
}

func (m *MemoryStateStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStateStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStateStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// LastSessionKey is the state key remembering an affiliate's open session.
func LastSessionKey(affiliateID string) string {
	return "last_session:" + affiliateID
}
