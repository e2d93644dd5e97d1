// Package gateway is the support desk: the HTTP and WebSocket server that
// affiliate chat clients and operators talk to.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
	"github.com/customermindiq/affchat/internal/store"
	"github.com/customermindiq/affchat/internal/version"
)

var (
	ErrSocketClosed  = errors.New("socket closed")
	ErrSessionClosed = errors.New("session is closed")
	ErrEmptyContent  = errors.New("content is required")
)

// MessageObserver is told about every message the desk stores.
type MessageObserver func(sess domain.ChatSession, msg domain.ChatMessage)

// Server is the support desk HTTP + WebSocket server.
type Server struct {
	cfg      config.DeskConfig
	auth     ResolvedAuth
	log      *logging.Logger
	sessions *store.SessionStore
	hub      *Hub
	hooks    *hooks.Manager
	version  string

	mu        sync.RWMutex
	observers []MessageObserver

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
	ready       chan struct{}
	addr        string
}

// ServerOption configures the desk server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithObserver registers a message observer at construction.
func WithObserver(fn MessageObserver) ServerOption {
	return func(s *Server) {
		s.observers = append(s.observers, fn)
	}
}

// New creates a desk server backed by sessions.
func New(cfg config.DeskConfig, sessions *store.SessionStore, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("desk"),
		sessions:    sessions,
		hub:         NewHub(log.Sub("hub")),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		ready:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers fn to be called after every stored message.
func (s *Server) Observe(fn MessageObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Hub exposes the socket registry.
func (s *Server) Hub() *Hub { return s.hub }

// checkWebSocketOrigin allows requests without an Origin header and browser
// requests from an allowed origin.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return originAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.DeskConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, tokens travel in cleartext")
	}
	if s.auth.Open() {
		s.log.Warn().Msg("no desk token configured, affiliate endpoints are open")
	}

	s.startedAt = time.Now()
	s.addr = ln.Addr().String()
	close(s.ready)

	s.log.Info().
		Str("addr", s.addr).
		Str("bind", s.cfg.Bind).
		Str("version", s.version).
		Msg("desk server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventDeskStart, map[string]any{"addr": s.addr})
	}

	go s.housekeeping(ctx)

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down desk server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventDeskStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	select {
	case <-s.ready:
		return s.addr
	default:
		return ""
	}
}

// housekeeping pings sockets so idle proxies keep them open, and sweeps the
// auth limiter.
func (s *Server) housekeeping(ctx context.Context) {
	interval := time.Duration(s.cfg.PingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.hub.Broadcast(realtime.PingEvent(now))
			s.authLimiter.sweep()
		}
	}
}

// handleWebSocket upgrades an affiliate's event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	affiliateID := strings.TrimSpace(r.PathValue("affiliate_id"))
	if affiliateID == "" {
		writeError(w, http.StatusBadRequest, "affiliate id is required")
		return
	}
	// The affiliate token is shared, so it does not tie the caller to
	// affiliateID.
	if _, ok := s.authorize(w, r, RoleAffiliate); !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(64 * 1024)

	sock := newSocket(conn, affiliateID)
	s.hub.add(sock)
	defer func() {
		s.hub.remove(sock)
		sock.close()
	}()

	// The stream is push-only; reads only detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("socket", sock.id).Msg("affiliate closed socket")
			} else {
				s.log.Debug().Err(err).Str("socket", sock.id).Msg("socket read ended")
			}
			return
		}
	}
}

// authorize checks the caller's bearer token, writing the error response
// itself when it fails.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, role Role) (AuthResult, bool) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return AuthResult{}, false
	}
	res := Authorize(s.auth, role, bearerToken(r))
	if !res.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Str("request_id", requestID(r.Context())).Msg("unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return res, false
	}
	return res, true
}

func (s *Server) notify(sess domain.ChatSession, msg domain.ChatMessage) {
	s.mu.RLock()
	observers := append([]MessageObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(sess, msg)
	}
}
