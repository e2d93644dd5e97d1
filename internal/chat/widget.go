package chat

import (
	"context"
	"sync"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
	"github.com/customermindiq/affchat/internal/store"
)

// Draft is the new-chat form.
type Draft struct {
	Subject string
	Message string
}

// View is everything a front-end needs to render the widget.
type View struct {
	Open       bool
	Minimized  bool
	Connection domain.ConnectionState
	Unread     int
	SessionID  string
	Status     domain.SessionStatus
	Subject    string
	Messages   []domain.ChatMessage
	Draft      Draft
	Compose    string
}

// WidgetConfig wires a Widget.
type WidgetConfig struct {
	Affiliate domain.Affiliate
	API       API
	Dialer    realtime.Dialer
	Reconnect ReconnectPolicy
	// State remembers the bound session across runs; may be nil.
	State    store.StateStore
	Hooks    *hooks.Manager
	Notifier NotifierFactory
	Log      *logging.Logger
}

// Widget is the headless chat surface. It owns the transcript, the unread
// counter, the session, and the realtime channel, and reports changes
// through hooks.
type Widget struct {
	aff      domain.Affiliate
	store    *MessageStore
	unread   *UnreadTracker
	sessions *SessionManager
	channel  *Channel
	hooks    *hooks.Manager
	factory  NotifierFactory
	log      *logging.Logger

	mu       sync.Mutex
	mounted  bool
	root     context.Context
	stop     context.CancelFunc
	gen      context.Context
	endGen   context.CancelFunc
	notifier Notifier
	draft    Draft
	compose  string
	creating bool
	sending  bool
}

// NewWidget builds an unmounted widget.
func NewWidget(cfg WidgetConfig) *Widget {
	log := cfg.Log.Sub("widget")
	hm := cfg.Hooks
	if hm == nil {
		hm = hooks.NewManager(cfg.Log)
	}
	factory := cfg.Notifier
	if factory == nil {
		factory = Silent
	}

	w := &Widget{
		aff:     cfg.Affiliate,
		store:   NewMessageStore(),
		hooks:   hm,
		factory: factory,
		log:     log,
	}
	w.unread = NewUnreadTracker(func(n int) {
		w.emit(hooks.EventUnreadChanged, map[string]any{"unread": n})
	})
	w.sessions = NewSessionManager(cfg.API, w.store, cfg.Affiliate, cfg.State, cfg.Log)
	w.channel = NewChannel(cfg.Dialer, cfg.Affiliate.ID, cfg.Reconnect, ChannelHandlers{
		OnMessage:       w.receive,
		OnState:         w.connectionChanged,
		ShouldReconnect: w.shouldReconnect,
	}, cfg.Log)
	return w
}

// Hooks returns the manager the widget emits on.
func (w *Widget) Hooks() *hooks.Manager { return w.hooks }

// Mount acquires the notifier and resumes a remembered session, connecting
// the channel if one is found. Mounting twice is a no-op.
func (w *Widget) Mount(ctx context.Context) error {
	w.mu.Lock()
	if w.mounted {
		w.mu.Unlock()
		return nil
	}
	n, err := w.factory()
	if err != nil {
		w.log.Warn().Err(err).Msg("notifier unavailable, cues disabled")
		n = silentNotifier{}
	}
	w.notifier = n
	w.root, w.stop = context.WithCancel(ctx)
	w.gen, w.endGen = context.WithCancel(w.root)
	w.mounted = true
	w.mu.Unlock()

	if id, ok := w.sessions.ResumeLast(); ok {
		w.log.Info().Str("session", id).Msg("resumed session")
		w.channel.EnsureConnected()
	}
	return nil
}

// Unmount cancels outstanding requests, closes the channel, and releases the
// notifier.
func (w *Widget) Unmount() {
	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	w.mounted = false
	w.stop()
	n := w.notifier
	w.notifier = nil
	w.mu.Unlock()

	w.channel.Close()
	if err := n.Close(); err != nil {
		w.log.Warn().Err(err).Msg("releasing notifier")
	}
}

// Open expands the widget, clears the unread count, loads history when a
// session is bound, and ensures the channel is connected. A history failure
// is logged and not returned.
func (w *Widget) Open(ctx context.Context) error {
	rctx, done, err := w.request(ctx)
	if err != nil {
		return err
	}
	defer done()

	w.unread.SetOpen(true)
	w.unread.SetMinimized(false)
	w.emit(hooks.EventWidgetOpened, nil)

	if id := w.sessions.SessionID(); id != "" {
		w.loadHistory(rctx, id)
	}
	w.channel.EnsureConnected()
	return nil
}

// Close collapses the widget. The session stays bound.
func (w *Widget) Close() {
	w.unread.SetOpen(false)
	w.emit(hooks.EventWidgetClosed, nil)
}

// Minimize shrinks the open widget to its title bar.
func (w *Widget) Minimize() {
	w.unread.SetMinimized(true)
	w.emit(hooks.EventWidgetMinimized, map[string]any{"minimized": true})
}

// Restore undoes Minimize.
func (w *Widget) Restore() {
	w.unread.SetMinimized(false)
	w.emit(hooks.EventWidgetMinimized, map[string]any{"minimized": false})
}

// SetDraft updates the new-chat form.
func (w *Widget) SetDraft(d Draft) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = d
}

// SetCompose updates the message compose box.
func (w *Widget) SetCompose(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.compose = s
}

// StartChat submits the new-chat form. The form is cleared on success and
// kept on failure so the user can retry.
func (w *Widget) StartChat(ctx context.Context, subject, message string) (string, error) {
	w.mu.Lock()
	w.draft = Draft{Subject: subject, Message: message}
	if w.creating {
		w.mu.Unlock()
		return "", ErrBusy
	}
	w.creating = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.creating = false
		w.mu.Unlock()
	}()

	rctx, done, err := w.request(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	id, err := w.sessions.CreateSession(rctx, subject, message)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.draft = Draft{}
	w.mu.Unlock()

	w.emit(hooks.EventSessionCreated, map[string]any{"session_id": id, "subject": subject})
	w.channel.EnsureConnected()
	return id, nil
}

// Send posts content to the bound session. The compose box is cleared on
// success and kept on failure.
func (w *Widget) Send(ctx context.Context, content string) error {
	w.mu.Lock()
	w.compose = content
	if w.sending {
		w.mu.Unlock()
		return ErrBusy
	}
	w.sending = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.sending = false
		w.mu.Unlock()
	}()

	rctx, done, err := w.request(ctx)
	if err != nil {
		return err
	}
	defer done()

	id, err := w.sessions.SendMessage(rctx, content)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.compose = ""
	w.mu.Unlock()

	w.emit(hooks.EventMessageSent, map[string]any{"message_id": id})
	return nil
}

// EndChat forgets the session locally and discards responses still in
// flight. The server-side session is left as is.
func (w *Widget) EndChat() {
	w.mu.Lock()
	id := w.sessions.SessionID()
	if w.mounted {
		w.endGen()
		w.gen, w.endGen = context.WithCancel(w.root)
	}
	w.mu.Unlock()

	w.sessions.Clear()
	if id != "" {
		w.emit(hooks.EventSessionEnded, map[string]any{"session_id": id})
	}
}

// Resume binds a known session id and, when the widget is open, loads its
// history.
func (w *Widget) Resume(ctx context.Context, sessionID string) error {
	rctx, done, err := w.request(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := w.sessions.Resume(sessionID); err != nil {
		return err
	}
	if w.unread.Open() {
		w.loadHistory(rctx, sessionID)
	}
	w.channel.EnsureConnected()
	return nil
}

// Refresh reloads the transcript of the bound session.
func (w *Widget) Refresh(ctx context.Context) error {
	rctx, done, err := w.request(ctx)
	if err != nil {
		return err
	}
	defer done()

	id := w.sessions.SessionID()
	if id == "" {
		return ErrNoSession
	}
	msgs, _, err := w.sessions.LoadMessages(rctx, id)
	if err == nil {
		w.emit(hooks.EventHistoryLoaded, map[string]any{"session_id": id, "messages": len(msgs)})
	}
	return err
}

// Snapshot returns the current render state.
func (w *Widget) Snapshot() View {
	w.mu.Lock()
	draft, compose := w.draft, w.compose
	w.mu.Unlock()

	sess, _ := w.sessions.Session()
	return View{
		Open:       w.unread.Open(),
		Minimized:  w.unread.Minimized(),
		Connection: w.channel.ConnectionState(),
		Unread:     w.unread.Count(),
		SessionID:  sess.ID,
		Status:     sess.Status,
		Subject:    sess.Subject,
		Messages:   w.store.Messages(),
		Draft:      draft,
		Compose:    compose,
	}
}

// ChannelState exposes the realtime channel lifecycle.
func (w *Widget) ChannelState() ChannelState { return w.channel.State() }

func (w *Widget) loadHistory(ctx context.Context, sessionID string) {
	if msgs, _, err := w.sessions.LoadMessages(ctx, sessionID); err == nil {
		w.emit(hooks.EventHistoryLoaded, map[string]any{"session_id": sessionID, "messages": len(msgs)})
	}
}

// request derives a context that is cancelled by the caller, by EndChat, or
// by Unmount.
func (w *Widget) request(ctx context.Context) (context.Context, func(), error) {
	w.mu.Lock()
	gen := w.gen
	mounted := w.mounted
	w.mu.Unlock()
	if !mounted {
		return nil, nil, ErrNotMounted
	}

	rctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(gen, cancel)
	return rctx, func() {
		stop()
		cancel()
	}, nil
}

func (w *Widget) receive(msg domain.ChatMessage) {
	if !w.sessions.Accepts(msg) {
		w.log.Debug().Str("session", msg.SessionID).Msg("ignoring message for another session")
		return
	}
	if !w.store.Append(msg) {
		return
	}
	w.unread.Observe(msg)

	if msg.FromAdmin() {
		w.mu.Lock()
		n := w.notifier
		w.mu.Unlock()
		if n != nil {
			n.Notify()
		}
	}
	w.emit(hooks.EventMessageReceived, map[string]any{
		"message_id":  msg.ID,
		"sender_type": string(msg.SenderType),
	})
}

func (w *Widget) connectionChanged(s domain.ConnectionState) {
	w.emit(hooks.EventConnectionChanged, map[string]any{"state": string(s)})
}

func (w *Widget) shouldReconnect() bool {
	return w.unread.Open() || w.sessions.SessionID() != ""
}

func (w *Widget) emit(event string, data map[string]any) {
	w.hooks.Emit(context.Background(), event, data)
}
