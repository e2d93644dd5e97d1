// Package chat is the affiliate support chat client: transcript, unread
// bookkeeping, session lifecycle, the realtime channel, and the headless
// widget that ties them together.
package chat

import (
	"sync"

	"github.com/customermindiq/affchat/internal/domain"
)

// Mark is a position in the store's append history.
type Mark uint64

// MessageStore is the ordered transcript of the bound session. Messages are
// kept in receipt order and never edited in place.
type MessageStore struct {
	mu   sync.Mutex
	msgs []domain.ChatMessage
	seqs []uint64
	ids  map[string]struct{}
	seq  uint64
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{ids: make(map[string]struct{})}
}

// Append adds msg at the end. A message whose non-empty ID is already present
// is skipped and Append returns false.
func (s *MessageStore) Append(msg domain.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg)
}

func (s *MessageStore) appendLocked(msg domain.ChatMessage) bool {
	if msg.ID != "" {
		if _, dup := s.ids[msg.ID]; dup {
			return false
		}
		s.ids[msg.ID] = struct{}{}
	}
	s.seq++
	s.msgs = append(s.msgs, msg)
	s.seqs = append(s.seqs, s.seq)
	return true
}

// Mark returns the current append position. Pass it to Replace to keep
// messages that arrive while a history fetch is in flight.
func (s *MessageStore) Mark() Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Mark(s.seq)
}

// Replace hydrates the store from history, which is authoritative. Messages
// appended after mark that history does not contain are kept after it, in
// their original order.
func (s *MessageStore) Replace(history []domain.ChatMessage, mark Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []domain.ChatMessage
	for i, m := range s.msgs {
		if s.seqs[i] > uint64(mark) {
			live = append(live, m)
		}
	}

	s.msgs = nil
	s.seqs = nil
	s.ids = make(map[string]struct{}, len(history)+len(live))
	for _, m := range history {
		s.appendLocked(m)
	}
	for _, m := range live {
		s.appendLocked(m)
	}
}

// Messages returns a copy of the transcript in receipt order.
func (s *MessageStore) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset empties the store.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.seqs = nil
	s.ids = make(map[string]struct{})
}
