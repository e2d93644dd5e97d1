package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/version"
)

// Error is returned when the server answers with a non-2xx status or with
// success=false.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the chat REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a client for baseURL. A non-empty token is attached as a
// bearer credential on every request.
func NewClient(baseURL, token string, timeout time.Duration, log *logging.Logger) *Client {
	hc := &http.Client{}
	if token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}))
	}
	hc.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		log:     log.Sub("api"),
	}
}

// CreateSession opens a session for the affiliate and returns its id.
func (c *Client) CreateSession(ctx context.Context, aff domain.Affiliate, subject, message string) (string, error) {
	req := CreateSessionRequest{
		AffiliateID:    aff.ID,
		AffiliateName:  aff.Name,
		AffiliateEmail: aff.Email,
		Subject:        subject,
		Message:        message,
		Priority:       domain.PriorityNormal,
	}
	var resp CreateSessionResponse
	status, err := c.do(ctx, http.MethodPost, PathSessions, req, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &Error{StatusCode: status, Message: resp.Message}
	}
	if resp.SessionID == "" {
		return "", &Error{StatusCode: status, Message: "response missing session_id"}
	}
	return resp.SessionID, nil
}

// FetchMessages returns the transcript and status of a session.
func (c *Client) FetchMessages(ctx context.Context, sessionID string) (*History, error) {
	var resp MessagesResponse
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf(sessionMessagesTmpl, url.PathEscape(sessionID)), nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{StatusCode: status, Message: resp.Message}
	}
	h := &History{Messages: resp.Messages}
	if h.Messages == nil {
		h.Messages = []domain.ChatMessage{}
	}
	if resp.Session != nil {
		h.Status = resp.Session.Status
	}
	return h, nil
}

// SendMessage posts an affiliate message. The returned id is empty when the
// server did not issue one.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (string, error) {
	req := SendMessageRequest{Content: content, MessageType: domain.MessageTypeText}
	var resp SendMessageResponse
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf(sessionMessagesTmpl, url.PathEscape(sessionID)), req, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &Error{StatusCode: status, Message: resp.Message}
	}
	return resp.MessageID, nil
}

// Reply posts an operator reply to a session.
func (c *Client) Reply(ctx context.Context, sessionID, senderName, content string) (string, error) {
	req := ReplyRequest{Content: content, SenderName: senderName}
	var resp SendMessageResponse
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf(adminReplyTmpl, url.PathEscape(sessionID)), req, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &Error{StatusCode: status, Message: resp.Message}
	}
	return resp.MessageID, nil
}

// ListSessions returns sessions known to the desk, optionally filtered by
// status.
func (c *Client) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.ChatSession, error) {
	path := PathAdminSessions
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp SessionsResponse
	code, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{StatusCode: code, Message: resp.Message}
	}
	return resp.Sessions, nil
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er ErrorResponse
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &er) == nil && er.Message != "" {
			msg = er.Message
		}
		return resp.StatusCode, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, nil
}
