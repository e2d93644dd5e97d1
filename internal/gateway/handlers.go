package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/store"
)

const maxBodyBytes = 1 << 20

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Sockets int    `json:"sockets"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.version, Sockets: s.hub.Count()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.AffiliateID = strings.TrimSpace(req.AffiliateID)
	if req.AffiliateID == "" {
		writeError(w, http.StatusBadRequest, "affiliate_id is required")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	aff := domain.Affiliate{ID: req.AffiliateID, Name: req.AffiliateName, Email: req.AffiliateEmail}
	sess, err := s.OpenSession(r.Context(), aff, req.Subject, req.Message)
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CreateSessionResponse{Success: true, SessionID: sess.ID})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, msgs, err := s.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.MessagesResponse{
		Success:  true,
		Messages: msgs,
		Session:  &api.SessionInfo{ID: sess.ID, Status: sess.Status, Subject: sess.Subject},
	})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MessageType != "" && req.MessageType != domain.MessageTypeText {
		writeError(w, http.StatusBadRequest, "unsupported message_type")
		return
	}
	msg, err := s.PostAffiliateMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SendMessageResponse{Success: true, MessageID: msg.ID})
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	status := domain.SessionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	list, err := s.Sessions(r.Context(), status)
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SessionsResponse{Success: true, Sessions: list})
}

func (s *Server) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	var req api.ReplyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.Reply(r.Context(), r.PathValue("id"), req.SenderName, req.Content)
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SendMessageResponse{Success: true, MessageID: msg.ID})
}

func (s *Server) handleAdminClose(w http.ResponseWriter, r *http.Request) {
	if err := s.CloseSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ErrorResponse{Success: true})
}

// writeDeskError maps desk errors to status codes.
func (s *Server) writeDeskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("desk request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Success: false, Message: message})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}
