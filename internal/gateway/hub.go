package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
)

const writeWait = 10 * time.Second

// socket is one affiliate WebSocket connection.
type socket struct {
	id          string
	affiliateID string
	conn        *websocket.Conn
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

func newSocket(conn *websocket.Conn, affiliateID string) *socket {
	return &socket{
		id:          uuid.New().String(),
		affiliateID: affiliateID,
		conn:        conn,
		connectedAt: time.Now(),
	}
}

// send writes one event. Safe for concurrent use.
func (s *socket) send(ev realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

func (s *socket) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "desk shutting down"),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Hub tracks open sockets by affiliate.
type Hub struct {
	mu      sync.RWMutex
	sockets map[string]map[string]*socket // affiliateID → socketID → socket
	log     *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		sockets: make(map[string]map[string]*socket),
		log:     log,
	}
}

func (h *Hub) add(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sockets[s.affiliateID] == nil {
		h.sockets[s.affiliateID] = make(map[string]*socket)
	}
	h.sockets[s.affiliateID][s.id] = s
	h.log.Info().Str("socket", s.id).Str("affiliate", s.affiliateID).Msg("affiliate connected")
}

func (h *Hub) remove(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID := h.sockets[s.affiliateID]
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(h.sockets, s.affiliateID)
	}
	h.log.Info().Str("socket", s.id).Str("affiliate", s.affiliateID).Msg("affiliate disconnected")
}

func (h *Hub) targets(affiliateID string) []*socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*socket
	if affiliateID == "" {
		for _, byID := range h.sockets {
			for _, s := range byID {
				out = append(out, s)
			}
		}
		return out
	}
	for _, s := range h.sockets[affiliateID] {
		out = append(out, s)
	}
	return out
}

// Publish sends ev to every socket of one affiliate and returns how many
// sockets it reached.
func (h *Hub) Publish(affiliateID string, ev realtime.Event) int {
	sent := 0
	for _, s := range h.targets(affiliateID) {
		if err := s.send(ev); err != nil {
			h.log.Warn().Err(err).Str("socket", s.id).Msg("publish failed")
			continue
		}
		sent++
	}
	return sent
}

// Broadcast sends ev to every connected socket.
func (h *Hub) Broadcast(ev realtime.Event) {
	for _, s := range h.targets("") {
		if err := s.send(ev); err != nil {
			h.log.Debug().Err(err).Str("socket", s.id).Msg("broadcast failed")
		}
	}
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, byID := range h.sockets {
		n += len(byID)
	}
	return n
}

// Connected reports whether the affiliate has at least one open socket.
func (h *Hub) Connected(affiliateID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sockets[affiliateID]) > 0
}

// CloseAll closes every socket.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.sockets
	h.sockets = make(map[string]map[string]*socket)
	h.mu.Unlock()

	for _, byID := range all {
		for _, s := range byID {
			s.close()
		}
	}
}
