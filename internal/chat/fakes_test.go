package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
)

func testLog() *logging.Logger { return logging.New(nil, "silent") }

var testAffiliate = domain.Affiliate{ID: "aff_1", Name: "Jane Doe", Email: "jane@x.com"}

type createCall struct {
	aff     domain.Affiliate
	subject string
	message string
}

// fakeAPI answers from canned values. When block is set every call signals
// started, then waits for block (or ctx) before answering.
type fakeAPI struct {
	mu         sync.Mutex
	createID   string
	createErr  error
	history    *api.History
	historyErr error
	sendID     string
	sendErr    error
	creates    []createCall
	sends      []string

	block   chan struct{}
	started chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		createID: "sess_123",
		history:  &api.History{Messages: []domain.ChatMessage{}},
		started:  make(chan struct{}, 16),
	}
}

func (f *fakeAPI) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	f.started <- struct{}{}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) CreateSession(ctx context.Context, aff domain.Affiliate, subject, message string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{aff, subject, message})
	return f.createID, f.createErr
}

func (f *fakeAPI) FetchMessages(ctx context.Context, sessionID string) (*api.History, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	h := *f.history
	h.Messages = append([]domain.ChatMessage(nil), f.history.Messages...)
	return &h, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, sessionID, content string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, content)
	return f.sendID, f.sendErr
}

func (f *fakeAPI) setSend(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendID, f.sendErr = id, err
}

func (f *fakeAPI) setCreate(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createID, f.createErr = id, err
}

// fakeConn is a push connection fed by the test.
type fakeConn struct {
	events chan realtime.Event
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan realtime.Event, 16),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent() (realtime.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.errs:
		return realtime.Event{}, err
	case <-c.closed:
		return realtime.Event{}, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close() }

type fakeDialer struct {
	mu    sync.Mutex
	fails int
	down  bool
	dials atomic.Int32
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, affiliateID string) (realtime.Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down || d.fails > 0 {
		if d.fails > 0 {
			d.fails--
		}
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

// next returns the most recently dialed connection.
func (d *fakeDialer) next(timeout time.Duration) *fakeConn {
	select {
	case c := <-d.conns:
		return c
	case <-time.After(timeout):
		return nil
	}
}

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		Initial:     5 * time.Millisecond,
		Max:         20 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: attempts,
	}
}

func adminMsg(id, content string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, SenderType: domain.SenderAdmin, SenderName: "Sam", Content: content, Timestamp: time.Now()}
}

func affiliateMsg(id, content string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, SenderType: domain.SenderAffiliate, SenderName: "Jane Doe", Content: content, Timestamp: time.Now()}
}
