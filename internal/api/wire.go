// Package api is the HTTP client for the affiliate chat REST endpoints, and
// holds the wire shapes shared with the support desk.
package api

import "github.com/customermindiq/affchat/internal/domain"

// REST paths.
const (
	PathSessions        = "/api/affiliate/chat/sessions"
	PathAdminSessions   = "/api/admin/chat/sessions"
	sessionMessagesTmpl = "/api/affiliate/chat/sessions/%s/messages"
	adminReplyTmpl      = "/api/admin/chat/sessions/%s/reply"
)

// CreateSessionRequest opens a support session with a first message.
type CreateSessionRequest struct {
	AffiliateID    string `json:"affiliate_id"`
	AffiliateName  string `json:"affiliate_name"`
	AffiliateEmail string `json:"affiliate_email"`
	Subject        string `json:"subject"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
}

// CreateSessionResponse carries the server-assigned session id.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SessionInfo is the session summary returned with history.
type SessionInfo struct {
	ID      string               `json:"id,omitempty"`
	Status  domain.SessionStatus `json:"status"`
	Subject string               `json:"subject,omitempty"`
}

// MessagesResponse is a session transcript.
type MessagesResponse struct {
	Success  bool                 `json:"success"`
	Messages []domain.ChatMessage `json:"messages"`
	Session  *SessionInfo         `json:"session,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// SendMessageRequest posts an affiliate message.
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendMessageResponse carries the server-assigned message id, if any.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ReplyRequest posts an operator reply.
type ReplyRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

// SessionsResponse lists sessions for operators.
type SessionsResponse struct {
	Success  bool                 `json:"success"`
	Sessions []domain.ChatSession `json:"sessions"`
	Message  string               `json:"message,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// History is a decoded transcript plus the session status.
type History struct {
	Messages []domain.ChatMessage
	Status   domain.SessionStatus
}
