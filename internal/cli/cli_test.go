package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/gateway"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/store"
)

func init() {
	log = logging.New(nil, "silent")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 8080, parseValue("8080"))
	assert.Equal(t, 1.5, parseValue("1.5"))
	assert.Equal(t, "loopback", parseValue("loopback"))
	assert.Equal(t, "12abc", parseValue("12abc"))
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, "x"))
	require.NoError(t, printValue(&buf, map[string]any{"port": 1}))
	assert.Equal(t, "x\nport: 1\n", buf.String())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "(none)", redact(""))
	assert.Equal(t, "***", redact("abc"))
	assert.Equal(t, "se**et", redact("secret"))
}

func TestDeskAuthMode(t *testing.T) {
	assert.Equal(t, "open", deskAuthMode(config.DeskAuth{}))
	assert.Equal(t, "token", deskAuthMode(config.DeskAuth{Token: "a"}))
	assert.Equal(t, "admin-only", deskAuthMode(config.DeskAuth{AdminToken: "b"}))
	assert.Equal(t, "token+admin", deskAuthMode(config.DeskAuth{Token: "a", AdminToken: "b"}))
}

func TestPrintStatus(t *testing.T) {
	c := config.Defaults()
	c.Affiliate = config.AffiliateConfig{ID: "aff_1", Name: "Jane"}

	var buf bytes.Buffer
	printStatus(&buf, c, "sess_9")
	out := buf.String()
	assert.Contains(t, out, "Affiliate: id=aff_1 name=Jane")
	assert.Contains(t, out, "Realtime:  ws://127.0.0.1:18790 backoff=3s..30s attempts=10")
	assert.Contains(t, out, "Session:   sess_9 (remembered)")
	assert.Contains(t, out, "IRC:       (not configured)")
	assert.NotContains(t, out, "Validation issues")

	buf.Reset()
	printStatus(&buf, config.Defaults(), "")
	assert.Contains(t, buf.String(), "affiliate.id: required to open a chat")
}

func TestRootCommands(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AFFCHAT_HOME", home)

	run := func(args ...string) (string, error) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append(args, "--log-level", "silent"))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("config", "path")
	require.NoError(t, err)
	assert.Equal(t, home+"/config.yaml\n", out)

	_, err = run("config", "set", "desk.port", "19000")
	require.NoError(t, err)
	out, err = run("config", "get", "desk.port")
	require.NoError(t, err)
	assert.Equal(t, "19000\n", out)

	out, err = run("config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "config OK\n", out)

	_, err = run("config", "validate", "--client")
	assert.Error(t, err)

	_, err = run("config", "unset", "desk.port")
	require.NoError(t, err)
	_, err = run("config", "get", "desk.port")
	assert.Error(t, err)

	out, err = run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "affchat "))
}

// syncBuffer is a bytes.Buffer safe for the render goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestREPLAgainstDesk(t *testing.T) {
	db, err := store.Open(store.MemoryPath, log)
	require.NoError(t, err)
	defer db.Close()
	desk := gateway.New(config.DeskConfig{Bind: "loopback"}, store.NewSessionStore(db), log)
	ts := httptest.NewServer(desk.Handler())
	defer func() {
		desk.Hub().CloseAll()
		ts.Close()
	}()

	c := config.Defaults()
	c.API.BaseURL = ts.URL
	c.Affiliate = config.AffiliateConfig{ID: "aff_1", Name: "Jane Doe"}
	c.Notify.CooldownMs = 1

	out := &syncBuffer{}
	w, err := newWidget(c, store.NewMemoryStateStore(), out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Mount(ctx))
	defer w.Unmount()

	r := newREPL(w, out)
	events, unsub := w.Hooks().Subscribe("terminal", 64, hooks.AllEvents...)
	defer unsub()
	go r.render(ctx, events)

	r.dispatch(ctx, "/start Payout")
	assert.Contains(t, out.String(), "usage: /start")

	r.dispatch(ctx, "hello before a chat")
	assert.Contains(t, out.String(), "! message not sent")

	r.dispatch(ctx, "/start Payout | Where is my payout?")
	assert.Contains(t, out.String(), "started")
	id := w.Snapshot().SessionID
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return desk.Hub().Connected("aff_1") }, 3*time.Second, 10*time.Millisecond)

	r.dispatch(ctx, "any news?")
	_, err = desk.Reply(ctx, id, "Sam", "Paid today")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Sam: Paid today")
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "\a")

	r.dispatch(ctx, "/status")
	assert.Contains(t, out.String(), "connection=connected")

	r.dispatch(ctx, "/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")

	r.dispatch(ctx, "/end")
	assert.Empty(t, w.Snapshot().SessionID)

	done := make(chan error, 1)
	go func() { done <- r.run(ctx, strings.NewReader("/quit\nignored\n")) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("repl did not quit")
	}
}

func TestREPLCatchesUpOnDroppedEvents(t *testing.T) {
	db, err := store.Open(store.MemoryPath, log)
	require.NoError(t, err)
	defer db.Close()
	desk := gateway.New(config.DeskConfig{Bind: "loopback"}, store.NewSessionStore(db), log)
	ts := httptest.NewServer(desk.Handler())
	defer func() {
		desk.Hub().CloseAll()
		ts.Close()
	}()

	c := config.Defaults()
	c.API.BaseURL = ts.URL
	c.Affiliate = config.AffiliateConfig{ID: "aff_1", Name: "Jane Doe"}

	out := &syncBuffer{}
	w, err := newWidget(c, store.NewMemoryStateStore(), out)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Mount(ctx))
	defer w.Unmount()

	// No render loop: every event is lost until renderEvent is called.
	r := newREPL(w, out)
	id, err := w.StartChat(ctx, "Payout", "Where is my payout?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return desk.Hub().Connected("aff_1") }, 3*time.Second, 10*time.Millisecond)

	for _, text := range []string{"Checking now", "Paid today"} {
		_, err = desk.Reply(ctx, id, "Sam", text)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(w.Snapshot().Messages) == 3 }, 3*time.Second, 10*time.Millisecond)

	r.renderEvent(hooks.Payload{Event: hooks.EventMessageReceived})
	r.renderEvent(hooks.Payload{Event: hooks.EventMessageReceived})
	assert.Equal(t, 1, strings.Count(out.String(), "Sam: Checking now"))
	assert.Equal(t, 1, strings.Count(out.String(), "Sam: Paid today"))
	assert.NotContains(t, out.String(), "Where is my payout?")

	// Loaded history is not replayed.
	r.renderEvent(hooks.Payload{Event: hooks.EventSessionEnded})
	r.renderEvent(hooks.Payload{Event: hooks.EventHistoryLoaded, Data: map[string]any{"messages": 3}})
	r.renderEvent(hooks.Payload{Event: hooks.EventMessageReceived})
	assert.Equal(t, 1, strings.Count(out.String(), "Sam: Paid today"))
}
