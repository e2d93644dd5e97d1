package chat

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/realtime"
	"github.com/customermindiq/affchat/internal/store"
)

type countingNotifier struct {
	mu     sync.Mutex
	cues   int
	closed bool
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cues++
}

func (n *countingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cues
}

type widgetHarness struct {
	w        *Widget
	api      *fakeAPI
	dialer   *fakeDialer
	notifier *countingNotifier
	acquired int
	state    *store.MemoryStateStore
}

func newHarness(t *testing.T) *widgetHarness {
	t.Helper()
	h := &widgetHarness{
		api:      newFakeAPI(),
		dialer:   newFakeDialer(),
		notifier: &countingNotifier{},
		state:    store.NewMemoryStateStore(),
	}
	h.w = NewWidget(WidgetConfig{
		Affiliate: testAffiliate,
		API:       h.api,
		Dialer:    h.dialer,
		Reconnect: fastPolicy(3),
		State:     h.state,
		Notifier: func() (Notifier, error) {
			h.acquired++
			return h.notifier, nil
		},
		Log: testLog(),
	})
	require.NoError(t, h.w.Mount(context.Background()))
	t.Cleanup(h.w.Unmount)
	return h
}

// startChat creates a session and returns the live socket.
func (h *widgetHarness) startChat(t *testing.T) *fakeConn {
	t.Helper()
	_, err := h.w.StartChat(context.Background(), "Billing question", "I was charged twice")
	require.NoError(t, err)
	conn := h.dialer.next(waitFor)
	require.NotNil(t, conn)
	require.Eventually(t, func() bool {
		return h.w.Snapshot().Connection == domain.ConnConnected
	}, waitFor, time.Millisecond)
	return conn
}

func TestWidget_MountAcquiresNotifierOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.w.Mount(context.Background()))
	assert.Equal(t, 1, h.acquired)

	h.w.Unmount()
	assert.True(t, h.notifier.closed)
	h.w.Unmount()
}

func TestWidget_NotMounted(t *testing.T) {
	h := newHarness(t)
	h.w.Unmount()

	_, err := h.w.StartChat(context.Background(), "s", "m")
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.ErrorIs(t, h.w.Send(context.Background(), "x"), ErrNotMounted)
	assert.ErrorIs(t, h.w.Open(context.Background()), ErrNotMounted)
}

func TestWidget_StartChat(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.w.Hooks().Subscribe("test", 16, hooks.EventSessionCreated)
	defer cancel()

	h.startChat(t)

	v := h.w.Snapshot()
	assert.Equal(t, "sess_123", v.SessionID)
	assert.Equal(t, domain.StatusWaiting, v.Status)
	assert.Equal(t, "Billing question", v.Subject)
	assert.Equal(t, Draft{}, v.Draft)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "I was charged twice", v.Messages[0].Content)

	ev := <-events
	assert.Equal(t, "sess_123", ev.Data["session_id"])
}

func TestWidget_StartChatFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.api.setCreate("", errors.New("502"))

	_, err := h.w.StartChat(context.Background(), "Billing question", "I was charged twice")
	var cerr *CreationError
	require.ErrorAs(t, err, &cerr)

	v := h.w.Snapshot()
	assert.Equal(t, Draft{Subject: "Billing question", Message: "I was charged twice"}, v.Draft)
	assert.Empty(t, v.SessionID)
	assert.Empty(t, v.Messages)

	// Retry with the same inputs succeeds and clears the form.
	h.api.setCreate("sess_123", nil)
	_, err = h.w.StartChat(context.Background(), v.Draft.Subject, v.Draft.Message)
	require.NoError(t, err)
	assert.Equal(t, Draft{}, h.w.Snapshot().Draft)
}

func TestWidget_StartChatBusy(t *testing.T) {
	h := newHarness(t)
	h.api.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.w.StartChat(context.Background(), "s", "m")
		done <- err
	}()
	<-h.api.started

	_, err := h.w.StartChat(context.Background(), "s", "m")
	assert.ErrorIs(t, err, ErrBusy)

	close(h.api.block)
	require.NoError(t, <-done)
}

func TestWidget_SendClearsCompose(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.api.setSend("m2", nil)

	h.w.SetCompose("typed")
	require.NoError(t, h.w.Send(context.Background(), "typed"))

	v := h.w.Snapshot()
	assert.Empty(t, v.Compose)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "m2", v.Messages[1].ID)
}

func TestWidget_SendFailureKeepsCompose(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.api.setSend("", &api.Error{StatusCode: 500, Message: "oops"})

	err := h.w.Send(context.Background(), "keep me")
	var serr *SendError
	require.ErrorAs(t, err, &serr)

	v := h.w.Snapshot()
	assert.Equal(t, "keep me", v.Compose)
	assert.Len(t, v.Messages, 1)
}

func TestWidget_SendWithoutSession(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.w.Send(context.Background(), "x"), ErrNoSession)
}

func TestWidget_EchoIsDeduped(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)
	h.api.setSend("m2", nil)
	require.NoError(t, h.w.Send(context.Background(), "hello"))

	echo := affiliateMsg("m2", "hello")
	echo.SessionID = "sess_123"
	conn.events <- realtime.NewMessageEvent(echo)
	conn.events <- realtime.NewMessageEvent(adminMsg("m3", "hi"))

	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 3 }, waitFor, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, h.w.Snapshot().Messages, 3)
}

func TestWidget_UnreadWhileClosed(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)

	const k = 3
	for i := 0; i < k; i++ {
		conn.events <- realtime.NewMessageEvent(adminMsg("", "ping from admin"))
	}
	conn.events <- realtime.NewMessageEvent(affiliateMsg("", "from another tab"))

	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 1+k+1 }, waitFor, time.Millisecond)
	assert.Equal(t, k, h.w.Snapshot().Unread)
	assert.Equal(t, k, h.notifier.count())

	require.NoError(t, h.w.Open(context.Background()))
	assert.Equal(t, 0, h.w.Snapshot().Unread)
}

func TestWidget_NoUnreadWhileOpen(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.w.Open(context.Background()))
	conn := h.startChat(t)

	conn.events <- realtime.NewMessageEvent(adminMsg("a1", "hi"))
	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, h.w.Snapshot().Unread)
	// The cue plays for operator messages regardless of visibility.
	assert.Equal(t, 1, h.notifier.count())

	h.w.Minimize()
	conn.events <- realtime.NewMessageEvent(adminMsg("a2", "still there?"))
	require.Eventually(t, func() bool { return h.w.Snapshot().Unread == 1 }, waitFor, time.Millisecond)

	h.w.Restore()
	assert.Equal(t, 1, h.w.Snapshot().Unread)
}

func TestWidget_PingChangesNothing(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)
	before := h.w.Snapshot()

	conn.events <- realtime.PingEvent(time.Now())
	conn.events <- realtime.NewMessageEvent(adminMsg("sentinel", "x"))
	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 2 }, waitFor, time.Millisecond)

	after := h.w.Snapshot()
	assert.Equal(t, before.Connection, after.Connection)
	assert.Equal(t, before.Messages, after.Messages[:1])
	assert.Equal(t, before.Unread+1, after.Unread)
}

func TestWidget_OpenLoadsHistory(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.api.history = &api.History{
		Messages: []domain.ChatMessage{affiliateMsg("m1", "I was charged twice"), adminMsg("m2", "Looking now")},
		Status:   domain.StatusActive,
	}

	require.NoError(t, h.w.Open(context.Background()))
	v := h.w.Snapshot()
	assert.True(t, v.Open)
	assert.Equal(t, domain.StatusActive, v.Status)
	assert.Equal(t, []string{"I was charged twice", "Looking now"}, contents(v.Messages))
}

func TestWidget_OpenHistoryFailureIsQuiet(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.api.historyErr = errors.New("down")

	require.NoError(t, h.w.Open(context.Background()))
	assert.Len(t, h.w.Snapshot().Messages, 1)
}

func TestWidget_EndChatDiscardsInFlight(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.api.block = make(chan struct{})
	h.api.setSend("late", nil)

	done := make(chan error, 1)
	go func() { done <- h.w.Send(context.Background(), "slow") }()
	<-h.api.started

	h.w.EndChat()
	assert.ErrorIs(t, <-done, ErrStale)

	v := h.w.Snapshot()
	assert.Empty(t, v.SessionID)
	assert.Empty(t, v.Messages)
	_, ok, _ := h.state.Get(store.LastSessionKey("aff_1"))
	assert.False(t, ok)
}

func TestWidget_UnmountDiscardsInFlight(t *testing.T) {
	h := newHarness(t)
	h.api.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.w.StartChat(context.Background(), "s", "m")
		done <- err
	}()
	<-h.api.started

	h.w.Unmount()
	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, h.w.Snapshot().SessionID)
	assert.Equal(t, ChannelIdle, h.w.ChannelState())
}

func TestWidget_MountResumesRememberedSession(t *testing.T) {
	h := newHarness(t)
	h.startChat(t)
	h.w.Unmount()

	w2 := NewWidget(WidgetConfig{
		Affiliate: testAffiliate,
		API:       h.api,
		Dialer:    h.dialer,
		Reconnect: fastPolicy(3),
		State:     h.state,
		Log:       testLog(),
	})
	require.NoError(t, w2.Mount(context.Background()))
	defer w2.Unmount()

	assert.Equal(t, "sess_123", w2.Snapshot().SessionID)
	require.NotNil(t, h.dialer.next(waitFor))
}

func TestWidget_ReconnectWhileSessionBound(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)

	conn.drop()
	require.NotNil(t, h.dialer.next(waitFor))
	require.Eventually(t, func() bool {
		return h.w.Snapshot().Connection == domain.ConnConnected
	}, waitFor, time.Millisecond)
}

func TestWidget_IgnoresOtherSessions(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)

	stray := adminMsg("x1", "wrong thread")
	stray.SessionID = "sess_other"
	conn.events <- realtime.NewMessageEvent(stray)
	conn.events <- realtime.NewMessageEvent(adminMsg("x2", "right thread"))

	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, "right thread", h.w.Snapshot().Messages[1].Content)
}

func TestWidget_IgnoresPushesAfterEndChat(t *testing.T) {
	h := newHarness(t)
	conn := h.startChat(t)
	h.w.Close()
	h.w.EndChat()

	late := adminMsg("late1", "reply to the old thread")
	late.SessionID = "sess_123"
	conn.events <- realtime.NewMessageEvent(late)
	conn.events <- realtime.NewMessageEvent(adminMsg("late2", "no session id"))
	conn.events <- realtime.PingEvent(time.Now())
	// The ping is only read once both messages were handled.
	require.Eventually(t, func() bool { return len(conn.events) == 0 }, waitFor, time.Millisecond)
	assert.Empty(t, h.w.Snapshot().Messages)
	assert.Zero(t, h.w.Snapshot().Unread)
	assert.Zero(t, h.notifier.count())

	// A newly bound session still receives pushes.
	require.NoError(t, h.w.Resume(context.Background(), "sess_9"))
	next := adminMsg("n1", "new thread")
	next.SessionID = "sess_9"
	conn.events <- realtime.NewMessageEvent(next)

	require.Eventually(t, func() bool { return len(h.w.Snapshot().Messages) == 1 }, waitFor, time.Millisecond)
	v := h.w.Snapshot()
	assert.Equal(t, "n1", v.Messages[0].ID)
	assert.Equal(t, 1, v.Unread)
	assert.Equal(t, 1, h.notifier.count())
}

func TestChime_Cooldown(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewChime(&buf, time.Second)()
	require.NoError(t, err)
	c := n.(*Chime)

	now := time.Unix(100, 0)
	c.now = func() time.Time { return now }

	c.Notify()
	c.Notify()
	now = now.Add(2 * time.Second)
	c.Notify()
	assert.Equal(t, "\a\a", buf.String())

	require.NoError(t, c.Close())
	now = now.Add(time.Hour)
	c.Notify()
	assert.Equal(t, "\a\a", buf.String())
}
