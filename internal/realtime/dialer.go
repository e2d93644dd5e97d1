package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/version"
)

// ErrDecode marks a frame that arrived intact but could not be decoded. The
// connection is still usable.
var ErrDecode = errors.New("malformed event")

// Conn is an established push connection.
type Conn interface {
	// ReadEvent blocks until the next event arrives or the connection fails.
	ReadEvent() (Event, error)
	Close() error
}

// Dialer opens push connections for an affiliate.
type Dialer interface {
	Dial(ctx context.Context, affiliateID string) (Conn, error)
}

// WSDialer dials the desk over WebSocket.
type WSDialer struct {
	baseURL     string
	token       string
	readTimeout time.Duration
	ws          *websocket.Dialer
	log         *logging.Logger
}

// NewWSDialer creates a dialer for the given ws:// or wss:// base URL. A
// non-empty token is sent as a bearer credential on the handshake.
// readTimeout of zero disables read deadlines.
func NewWSDialer(baseURL, token string, readTimeout time.Duration, log *logging.Logger) *WSDialer {
	return &WSDialer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		readTimeout: readTimeout,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.Sub("realtime"),
	}
}

// Dial connects to the affiliate's event stream.
func (d *WSDialer) Dial(ctx context.Context, affiliateID string) (Conn, error) {
	target := d.baseURL + AffiliatePath(affiliateID)

	header := http.Header{"User-Agent": {version.UserAgent()}}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	sock, resp, err := d.ws.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}

	d.log.Debug().Str("url", target).Msg("socket open")
	return &wsConn{sock: sock, readTimeout: d.readTimeout}, nil
}

type wsConn struct {
	sock        *websocket.Conn
	readTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadEvent() (Event, error) {
	if c.readTimeout > 0 {
		c.sock.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	_, data, err := c.sock.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.sock.Close()
	})
	return c.closeErr
}
