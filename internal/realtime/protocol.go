// Package realtime defines the push-event protocol between the support desk
// and affiliate clients, and a WebSocket dialer for the client side.
package realtime

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/customermindiq/affchat/internal/domain"
)

// Event types pushed by the server.
const (
	EventNewMessage    = "new_message"
	EventPing          = "ping"
	EventSessionStatus = "session_status"
)

// Event is a single server-to-client push.
type Event struct {
	Type      string               `json:"type"`
	Message   *domain.ChatMessage  `json:"message,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	Status    domain.SessionStatus `json:"status,omitempty"`
	Time      *time.Time           `json:"time,omitempty"`
}

// NewMessageEvent wraps a chat message for delivery.
func NewMessageEvent(msg domain.ChatMessage) Event {
	return Event{Type: EventNewMessage, Message: &msg}
}

// PingEvent builds a keepalive event.
func PingEvent(now time.Time) Event {
	return Event{Type: EventPing, Time: &now}
}

// SessionStatusEvent announces a status transition for a session.
func SessionStatusEvent(sessionID string, status domain.SessionStatus) Event {
	return Event{Type: EventSessionStatus, SessionID: sessionID, Status: status}
}

// Deliverable reports whether the event carries a chat message the client
// should append.
func (e Event) Deliverable() bool {
	return e.Type == EventNewMessage && e.Message != nil
}

// ParseEvent decodes a raw frame. Unknown event types decode without error.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// AffiliatePath returns the socket path for an affiliate.
func AffiliatePath(affiliateID string) string {
	return "/ws/affiliate/" + url.PathEscape(affiliateID)
}
