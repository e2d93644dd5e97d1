package domain

import (
	"strconv"
	"time"
)

// SenderType identifies who authored a chat message.
type SenderType string

const (
	SenderAffiliate SenderType = "affiliate"
	SenderAdmin     SenderType = "admin"
)

// MessageTypeText is the only message type the client sends.
const MessageTypeText = "text"

// ChatMessage is a single entry in a session transcript.
type ChatMessage struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id,omitempty"`
	SenderType  SenderType `json:"sender_type"`
	SenderName  string     `json:"sender_name"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// FromAdmin reports whether the message was written by a support operator.
func (m ChatMessage) FromAdmin() bool { return m.SenderType == SenderAdmin }

// LocalMessageID returns the client-generated fallback id used when the
// server does not issue one.
func LocalMessageID(t time.Time) string {
	return "local-" + strconv.FormatInt(t.UnixNano(), 10)
}

// ConnectionState is what the status indicator renders.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnected    ConnectionState = "connected"
	// ConnUnavailable means reconnecting was given up after repeated failures.
	ConnUnavailable ConnectionState = "unavailable"
)
