// Package hooks dispatches chat lifecycle events to front-ends and
// integrations.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/customermindiq/affchat/internal/logging"
)

// Event names emitted by the chat widget and the support desk.
const (
	EventWidgetOpened      = "widget_opened"
	EventWidgetClosed      = "widget_closed"
	EventWidgetMinimized   = "widget_minimized"
	EventSessionCreated    = "session_created"
	EventSessionEnded      = "session_ended"
	EventHistoryLoaded     = "history_loaded"
	EventMessageReceived   = "message_received"
	EventMessageSent       = "message_sent"
	EventUnreadChanged     = "unread_changed"
	EventConnectionChanged = "connection_changed"
	EventDeskStart         = "desk_start"
	EventDeskStop          = "desk_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventWidgetOpened,
	EventWidgetClosed,
	EventWidgetMinimized,
	EventSessionCreated,
	EventSessionEnded,
	EventHistoryLoaded,
	EventMessageReceived,
	EventMessageSent,
	EventUnreadChanged,
	EventConnectionChanged,
	EventDeskStart,
	EventDeskStop,
}

// Payload is what handlers receive.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. Errors are logged and never stop the handlers
// registered after it.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name string
	fn   Handler
}

// Manager fans events out to named handlers.
type Manager struct {
	log *logging.Logger

	mu   sync.RWMutex
	regs map[string][]registration
}

// NewManager returns an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{log: log.Sub("hooks"), regs: map[string][]registration{}}
}

// On adds handler for event under name. Several handlers may share a name.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.regs[event] = append(m.regs[event], registration{name: name, fn: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off drops every handler registered for event under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := slices.DeleteFunc(slices.Clone(m.regs[event]), func(r registration) bool {
		return r.name == name
	})
	if len(regs) == 0 {
		delete(m.regs, event)
	} else {
		m.regs[event] = regs
	}
}

// Subscribe turns a set of events into a buffered channel for a render loop.
// Payloads that do not fit are dropped and never redelivered, so a
// subscriber that must not miss data has to recover it from its source on a
// later event. The returned func unsubscribes.
func (m *Manager) Subscribe(name string, buf int, events ...string) (<-chan Payload, func()) {
	ch := make(chan Payload, buf)
	deliver := func(_ context.Context, p Payload) error {
		select {
		case ch <- p:
		default:
			m.log.Debug().Str("event", p.Event).Str("handler", name).Msg("subscriber full, dropping")
		}
		return nil
	}
	for _, ev := range events {
		m.On(ev, name, deliver)
	}
	return ch, func() {
		for _, ev := range events {
			m.Off(ev, name)
		}
	}
}

// Emit runs the handlers for event in registration order on the caller's
// goroutine.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	regs := m.regs[event]
	m.mu.RUnlock()

	p := Payload{Event: event, Data: data}
	for _, r := range regs {
		if err := r.fn(ctx, p); err != nil {
			m.log.Warn().Err(err).Str("event", event).Str("handler", r.name).Msg("hook handler failed")
		}
	}
}

// Count reports how many handlers are registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regs[event])
}
