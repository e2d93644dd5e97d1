package chat

import (
	"io"
	"sync"
	"time"
)

// Notifier plays the cue for an incoming operator message.
type Notifier interface {
	Notify()
	Close() error
}

// NotifierFactory acquires a Notifier when the widget mounts.
type NotifierFactory func() (Notifier, error)

// Chime rings the terminal bell. Cues inside the cooldown window are
// swallowed so a burst of messages rings once.
type Chime struct {
	mu       sync.Mutex
	out      io.Writer
	cooldown time.Duration
	last     time.Time
	closed   bool
	now      func() time.Time
}

// NewChime returns a factory for chimes writing to out.
func NewChime(out io.Writer, cooldown time.Duration) NotifierFactory {
	return func() (Notifier, error) {
		return &Chime{out: out, cooldown: cooldown, now: time.Now}, nil
	}
}

func (c *Chime) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.cooldown {
		return
	}
	c.last = now
	c.out.Write([]byte{'\a'})
}

func (c *Chime) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type silentNotifier struct{}

func (silentNotifier) Notify()      {}
func (silentNotifier) Close() error { return nil }

// Silent is a factory for a notifier that does nothing.
func Silent() (Notifier, error) { return silentNotifier{}, nil }
