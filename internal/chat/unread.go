package chat

import (
	"sync"

	"github.com/customermindiq/affchat/internal/domain"
)

// UnreadTracker counts operator messages that arrive while the widget is not
// visible. The count only resets when the widget is opened.
type UnreadTracker struct {
	mu        sync.Mutex
	open      bool
	minimized bool
	count     int
	onChange  func(count int)
}

// NewUnreadTracker creates a tracker for a closed widget. onChange, if
// non-nil, is called with the new count after every change.
func NewUnreadTracker(onChange func(count int)) *UnreadTracker {
	return &UnreadTracker{onChange: onChange}
}

// Visible reports whether the widget is open and not minimized.
func (u *UnreadTracker) Visible() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.open && !u.minimized
}

// Observe records an incoming message and reports whether the count changed.
func (u *UnreadTracker) Observe(msg domain.ChatMessage) bool {
	u.mu.Lock()
	if !msg.FromAdmin() || (u.open && !u.minimized) {
		u.mu.Unlock()
		return false
	}
	u.count++
	n := u.count
	u.mu.Unlock()

	u.notify(n)
	return true
}

// SetOpen records whether the widget is expanded. Opening resets the count.
func (u *UnreadTracker) SetOpen(open bool) {
	u.mu.Lock()
	u.open = open
	if !open {
		u.minimized = false
	}
	changed := open && u.count != 0
	if open {
		u.count = 0
	}
	u.mu.Unlock()

	if changed {
		u.notify(0)
	}
}

// SetMinimized records whether the open widget is minimized.
func (u *UnreadTracker) SetMinimized(minimized bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.minimized = minimized
}

// Open reports whether the widget is expanded, minimized or not.
func (u *UnreadTracker) Open() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.open
}

// Minimized reports whether the widget is minimized.
func (u *UnreadTracker) Minimized() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.minimized
}

// Count returns the current unread count.
func (u *UnreadTracker) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func (u *UnreadTracker) notify(n int) {
	if u.onChange != nil {
		u.onChange(n)
	}
}
