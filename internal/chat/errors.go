package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when an operation needs a bound session.
	ErrNoSession = errors.New("no chat session")
	// ErrSessionActive is returned when creating a session while one is bound.
	ErrSessionActive = errors.New("chat session already active")
	// ErrStale marks a response that arrived after its request was
	// superseded. The response was discarded without touching state.
	ErrStale = errors.New("stale response discarded")
	// ErrBusy is returned when the same kind of request is already in flight.
	ErrBusy = errors.New("request already in flight")
	// ErrEmptyMessage is returned for blank subjects or message bodies.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotMounted is returned by widget operations before Mount or after
	// Unmount.
	ErrNotMounted = errors.New("chat widget not mounted")
)

// CreationError reports a failed session creation.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string { return fmt.Sprintf("starting chat: %v", e.Err) }
func (e *CreationError) Unwrap() error { return e.Err }

// SendError reports a failed message send.
type SendError struct {
	SessionID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending message to %s: %v", e.SessionID, e.Err)
}
func (e *SendError) Unwrap() error { return e.Err }

// HistoryLoadError reports a failed transcript fetch.
type HistoryLoadError struct {
	SessionID string
	Err       error
}

func (e *HistoryLoadError) Error() string {
	return fmt.Sprintf("loading history for %s: %v", e.SessionID, e.Err)
}
func (e *HistoryLoadError) Unwrap() error { return e.Err }

// ChannelError reports a realtime connection failure. It is logged, never
// returned to callers.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("realtime %s: %v", e.Op, e.Err) }
func (e *ChannelError) Unwrap() error { return e.Err }
