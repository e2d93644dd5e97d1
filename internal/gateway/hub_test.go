package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
)

// hubHarness upgrades every request into a socket registered under the
// affiliate named by the "aff" query parameter.
func hubHarness(t *testing.T) (*Hub, func(aff string) *websocket.Conn) {
	t.Helper()
	hub := NewHub(logging.New(nil, "silent"))
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sock := newSocket(conn, r.URL.Query().Get("aff"))
		hub.add(sock)
		defer func() {
			hub.remove(sock)
			sock.close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		hub.CloseAll()
		ts.Close()
	})

	dial := func(aff string) *websocket.Conn {
		before := hub.Count()
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"?aff="+aff, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.Eventually(t, func() bool { return hub.Count() == before+1 }, 2*time.Second, 5*time.Millisecond)
		return conn
	}
	return hub, dial
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := realtime.ParseEvent(data)
	require.NoError(t, err)
	return ev
}

func TestHub_PublishTargetsAffiliate(t *testing.T) {
	hub, dial := hubHarness(t)
	a1 := dial("aff_1")
	a2 := dial("aff_1")
	b := dial("aff_2")

	assert.Equal(t, 3, hub.Count())
	assert.True(t, hub.Connected("aff_1"))
	assert.False(t, hub.Connected("aff_3"))

	msg := domain.ChatMessage{ID: "msg_1", SessionID: "sess_1", SenderType: domain.SenderAdmin, Content: "hi"}
	assert.Equal(t, 2, hub.Publish("aff_1", realtime.NewMessageEvent(msg)))
	assert.Equal(t, 0, hub.Publish("aff_3", realtime.NewMessageEvent(msg)))

	for _, c := range []*websocket.Conn{a1, a2} {
		ev := readEvent(t, c)
		assert.Equal(t, realtime.EventNewMessage, ev.Type)
		assert.Equal(t, "msg_1", ev.Message.ID)
	}

	hub.Broadcast(realtime.PingEvent(time.Now()))
	assert.Equal(t, realtime.EventPing, readEvent(t, b).Type)
}

func TestHub_RemoveOnDisconnect(t *testing.T) {
	hub, dial := hubHarness(t)
	c := dial("aff_1")
	c.Close()

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, hub.Connected("aff_1"))
}

func TestHub_CloseAll(t *testing.T) {
	hub, dial := hubHarness(t)
	c := dial("aff_1")

	hub.CloseAll()
	assert.Equal(t, 0, hub.Count())

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
