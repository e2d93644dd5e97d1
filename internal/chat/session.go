package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/store"
)

// API is the subset of the REST client the session manager needs.
type API interface {
	CreateSession(ctx context.Context, aff domain.Affiliate, subject, message string) (string, error)
	FetchMessages(ctx context.Context, sessionID string) (*api.History, error)
	SendMessage(ctx context.Context, sessionID, content string) (string, error)
}

// SessionManager owns the client's single support session. Every response is
// applied only if its context is still live and the session binding has not
// changed since the request started.
type SessionManager struct {
	api   API
	store *MessageStore
	aff   domain.Affiliate
	state store.StateStore
	log   *logging.Logger
	now   func() time.Time

	mu       sync.Mutex
	session  *domain.ChatSession
	epoch    uint64
	creating bool
}

// NewSessionManager creates a manager writing to msgs. state may be nil, in
// which case the bound session is not remembered across runs.
func NewSessionManager(client API, msgs *MessageStore, aff domain.Affiliate, state store.StateStore, log *logging.Logger) *SessionManager {
	return &SessionManager{
		api:   client,
		store: msgs,
		aff:   aff,
		state: state,
		log:   log.Sub("session"),
		now:   time.Now,
	}
}

// CreateSession opens a new session with subject and an initial message.
// On success the session is bound with status waiting and the store holds the
// initial message. On failure nothing changes.
func (m *SessionManager) CreateSession(ctx context.Context, subject, message string) (string, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(message) == "" {
		return "", &CreationError{Err: ErrEmptyMessage}
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return "", ErrSessionActive
	}
	if m.creating {
		m.mu.Unlock()
		return "", ErrBusy
	}
	m.creating = true
	epoch := m.epoch
	m.mu.Unlock()

	id, err := m.api.CreateSession(ctx, m.aff, subject, message)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creating = false

	if ctx.Err() != nil || epoch != m.epoch {
		m.log.Debug().Str("session", id).Msg("discarding stale create response")
		return "", ErrStale
	}
	if err != nil {
		return "", &CreationError{Err: err}
	}

	now := m.now()
	m.epoch++
	m.session = &domain.ChatSession{
		ID:             id,
		AffiliateID:    m.aff.ID,
		AffiliateName:  m.aff.Name,
		AffiliateEmail: m.aff.Email,
		Subject:        subject,
		Status:         domain.StatusWaiting,
		Priority:       domain.PriorityNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.store.Reset()
	m.store.Append(domain.ChatMessage{
		ID:          domain.LocalMessageID(now),
		SessionID:   id,
		SenderType:  domain.SenderAffiliate,
		SenderName:  m.aff.Name,
		Content:     message,
		MessageType: domain.MessageTypeText,
		Timestamp:   now,
	})
	m.remember(id)

	m.log.Info().Str("session", id).Msg("session created")
	return id, nil
}

// LoadMessages fetches the transcript of sessionID and replaces the store
// with it. A failure is logged and leaves the store unchanged.
func (m *SessionManager) LoadMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, domain.SessionStatus, error) {
	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return nil, "", ErrNoSession
	}
	epoch := m.epoch
	mark := m.store.Mark()
	m.mu.Unlock()

	hist, err := m.api.FetchMessages(ctx, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil || epoch != m.epoch {
		m.log.Debug().Str("session", sessionID).Msg("discarding stale history response")
		return nil, "", ErrStale
	}
	if err != nil {
		herr := &HistoryLoadError{SessionID: sessionID, Err: err}
		m.log.Warn().Err(herr).Msg("history load failed")
		return nil, "", herr
	}

	m.store.Replace(hist.Messages, mark)
	if hist.Status.Valid() {
		m.session.Status = hist.Status
	}
	m.session.UpdatedAt = m.now()

	return m.store.Messages(), m.session.Status, nil
}

// SendMessage posts content to the bound session and appends it to the store
// under the server-issued id, or a local id when the server returned none.
func (m *SessionManager) SendMessage(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", &SendError{Err: ErrEmptyMessage}
	}

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return "", ErrNoSession
	}
	sessionID := m.session.ID
	epoch := m.epoch
	m.mu.Unlock()

	msgID, err := m.api.SendMessage(ctx, sessionID, content)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil || epoch != m.epoch {
		m.log.Debug().Str("session", sessionID).Msg("discarding stale send response")
		return "", ErrStale
	}
	if err != nil {
		return "", &SendError{SessionID: sessionID, Err: err}
	}

	now := m.now()
	if msgID == "" {
		msgID = domain.LocalMessageID(now)
	}
	m.store.Append(domain.ChatMessage{
		ID:          msgID,
		SessionID:   sessionID,
		SenderType:  domain.SenderAffiliate,
		SenderName:  m.aff.Name,
		Content:     content,
		MessageType: domain.MessageTypeText,
		Timestamp:   now,
	})
	m.session.UpdatedAt = now
	return msgID, nil
}

// Resume binds an existing session id, for example one remembered from a
// previous run. Its status is unknown until history is loaded.
func (m *SessionManager) Resume(sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if m.session.ID == sessionID {
			return nil
		}
		return ErrSessionActive
	}
	m.epoch++
	m.session = &domain.ChatSession{
		ID:             sessionID,
		AffiliateID:    m.aff.ID,
		AffiliateName:  m.aff.Name,
		AffiliateEmail: m.aff.Email,
		Priority:       domain.PriorityNormal,
	}
	m.store.Reset()
	m.remember(sessionID)
	return nil
}

// ResumeLast binds the session remembered for this affiliate, if any.
func (m *SessionManager) ResumeLast() (string, bool) {
	if m.state == nil || !m.aff.Known() {
		return "", false
	}
	id, ok, err := m.state.Get(store.LastSessionKey(m.aff.ID))
	if err != nil {
		m.log.Warn().Err(err).Msg("reading remembered session")
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	if err := m.Resume(id); err != nil {
		return "", false
	}
	return id, true
}

// Clear unbinds the session and empties the store. Requests in flight for
// the old binding are discarded when they return. The server-side session is
// not touched.
func (m *SessionManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.session = nil
	m.store.Reset()
	if m.state != nil && m.aff.Known() {
		if err := m.state.Delete(store.LastSessionKey(m.aff.ID)); err != nil {
			m.log.Warn().Err(err).Msg("forgetting session")
		}
	}
}

// Accepts reports whether a pushed message belongs in the store. Nothing is
// accepted while no session is bound, and a message naming another session
// is never accepted.
func (m *SessionManager) Accepts(msg domain.ChatMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return false
	}
	return msg.SessionID == "" || msg.SessionID == m.session.ID
}

// Session returns a copy of the bound session.
func (m *SessionManager) Session() (domain.ChatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.ChatSession{}, false
	}
	return *m.session, true
}

// SessionID returns the bound session id, or "".
func (m *SessionManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// Status returns the last known status of the bound session, or "".
func (m *SessionManager) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Status
}

func (m *SessionManager) remember(sessionID string) {
	if m.state == nil || !m.aff.Known() {
		return
	}
	if err := m.state.Set(store.LastSessionKey(m.aff.ID), sessionID); err != nil {
		m.log.Warn().Err(err).Msg("remembering session")
	}
}
