package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/realtime"
)

// ChannelState is the lifecycle state of the realtime channel.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
	ChannelExhausted
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	case ChannelExhausted:
		return "exhausted"
	}
	return "unknown"
}

// ReconnectPolicy shapes the delay between reconnect attempts.
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor, 0 for none.
	Jitter float64
	// MaxAttempts is the number of consecutive failed attempts before giving
	// up. Zero retries forever.
	MaxAttempts int
}

// DefaultReconnectPolicy starts at 3s, doubles up to 30s, and gives up after
// ten consecutive failures.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:     3 * time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 10,
	}
}

func (p ReconnectPolicy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
	}
	return eb
}

// ChannelHandlers receive channel output. All are optional and are called
// from the channel's goroutine.
type ChannelHandlers struct {
	OnMessage func(domain.ChatMessage)
	OnState   func(domain.ConnectionState)
	// ShouldReconnect is consulted after every drop; reconnecting stops when
	// it returns false.
	ShouldReconnect func() bool
}

// Channel keeps one push connection per affiliate alive and forwards
// new_message events.
type Channel struct {
	dialer      realtime.Dialer
	affiliateID string
	policy      ReconnectPolicy
	handlers    ChannelHandlers
	log         *logging.Logger

	mu        sync.Mutex
	state     ChannelState
	connState domain.ConnectionState
	conn      realtime.Conn
	gen       uint64
	cancel    context.CancelFunc
	kick      chan struct{}
	done      chan struct{}
}

// NewChannel creates an idle channel. An empty affiliateID makes
// EnsureConnected a no-op.
func NewChannel(dialer realtime.Dialer, affiliateID string, policy ReconnectPolicy, handlers ChannelHandlers, log *logging.Logger) *Channel {
	return &Channel{
		dialer:      dialer,
		affiliateID: affiliateID,
		policy:      policy,
		handlers:    handlers,
		log:         log.Sub("channel"),
		state:       ChannelIdle,
		connState:   domain.ConnDisconnected,
	}
}

// State returns the lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionState returns what the status indicator shows.
func (c *Channel) ConnectionState() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// EnsureConnected starts connecting unless a connection is already open or
// being opened. While waiting out a reconnect delay it retries immediately.
func (c *Channel) EnsureConnected() {
	if c.affiliateID == "" {
		c.log.Debug().Msg("no affiliate id, not connecting")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ChannelConnecting, ChannelOpen:
		return
	case ChannelClosed:
		if c.done != nil {
			select {
			case c.kick <- struct{}{}:
			default:
			}
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.cancel = cancel
	c.kick = make(chan struct{}, 1)
	c.done = make(chan struct{})
	c.state = ChannelConnecting
	go c.run(ctx, c.gen, c.kick, c.done)
}

// Close stops reconnecting, closes the socket, and waits for the channel's
// goroutine to exit. Handlers must not call Close.
func (c *Channel) Close() {
	c.mu.Lock()
	c.gen++
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel, c.conn, c.done, c.kick = nil, nil, nil, nil
	c.state = ChannelIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	c.setConnState(0, domain.ConnDisconnected)
}

func (c *Channel) run(ctx context.Context, gen uint64, kick <-chan struct{}, done chan struct{}) {
	defer close(done)
	bo := c.policy.newBackOff()

	for {
		if !c.transition(gen, ChannelConnecting) {
			return
		}

		conn, err := c.dialer.Dial(ctx, c.affiliateID)
		if err == nil {
			if !c.attach(gen, conn) {
				conn.Close()
				return
			}
			bo.Reset()
			c.setConnState(gen, domain.ConnConnected)
			c.log.Info().Str("affiliate", c.affiliateID).Msg("realtime connected")

			err = c.read(conn)
			conn.Close()
			if !c.detach(gen) {
				return
			}
			c.log.Warn().Err(&ChannelError{Op: "read", Err: err}).Msg("realtime connection dropped")
		} else {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(&ChannelError{Op: "dial", Err: err}).Msg("realtime connect failed")
		}

		if !c.transition(gen, ChannelClosed) {
			return
		}
		c.setConnState(gen, domain.ConnDisconnected)

		if c.handlers.ShouldReconnect != nil && !c.handlers.ShouldReconnect() {
			if c.finish(gen, ChannelClosed) {
				c.log.Debug().Msg("not reconnecting")
				return
			}
			bo.Reset()
			continue
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			if c.finish(gen, ChannelExhausted) {
				c.log.Error().Int("attempts", c.policy.MaxAttempts).Msg("realtime reconnect gave up")
				c.setConnState(gen, domain.ConnUnavailable)
				return
			}
			bo.Reset()
			continue
		}

		c.log.Debug().Dur("delay", delay).Msg("reconnect scheduled")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-kick:
			timer.Stop()
			bo.Reset()
		case <-timer.C:
		}
	}
}

// read forwards deliverable events until the connection fails.
func (c *Channel) read(conn realtime.Conn) error {
	for {
		ev, err := conn.ReadEvent()
		if errors.Is(err, realtime.ErrDecode) {
			c.log.Debug().Err(err).Msg("skipping event")
			continue
		}
		if err != nil {
			return err
		}
		if !ev.Deliverable() {
			continue
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(*ev.Message)
		}
	}
}

func (c *Channel) transition(gen uint64, s ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.state = s
	return true
}

func (c *Channel) attach(gen uint64, conn realtime.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.conn = conn
	c.state = ChannelOpen
	return true
}

func (c *Channel) detach(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.conn = nil
	return true
}

// finish records the loop's terminal state so the next EnsureConnected
// starts a fresh loop. It reports false, leaving the loop in charge, when an
// EnsureConnected arrived after the loop decided to stop.
func (c *Channel) finish(gen uint64, s ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return true
	}
	select {
	case <-c.kick:
		return false
	default:
	}
	c.state = s
	c.cancel()
	c.cancel, c.done, c.kick = nil, nil, nil
	return true
}

// setConnState publishes a connection state change. gen 0 always applies.
func (c *Channel) setConnState(gen uint64, s domain.ConnectionState) {
	c.mu.Lock()
	if (gen != 0 && gen != c.gen) || c.connState == s {
		c.mu.Unlock()
		return
	}
	c.connState = s
	c.mu.Unlock()

	if c.handlers.OnState != nil {
		c.handlers.OnState(s)
	}
}
