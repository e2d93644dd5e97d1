package gateway

import (
	"context"
	"strings"

	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/realtime"
)

// DefaultOperatorName signs replies that arrive without a sender name.
const DefaultOperatorName = "Support"

// OpenSession creates a waiting session for the affiliate with its first
// message.
func (s *Server) OpenSession(ctx context.Context, aff domain.Affiliate, subject, message string) (*domain.ChatSession, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyContent
	}

	sess, err := s.sessions.Create(domain.ChatSession{
		AffiliateID:    aff.ID,
		AffiliateName:  aff.Name,
		AffiliateEmail: aff.Email,
		Subject:        subject,
		Status:         domain.StatusWaiting,
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		return nil, err
	}

	msg, err := s.sessions.AppendMessage(domain.ChatMessage{
		SessionID:  sess.ID,
		SenderType: domain.SenderAffiliate,
		SenderName: aff.Name,
		Content:    message,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("session", sess.ID).Str("affiliate", aff.ID).Msg("session opened")
	s.notify(*sess, *msg)
	return sess, nil
}

// PostAffiliateMessage stores an affiliate message and echoes it to the
// affiliate's sockets.
func (s *Server) PostAffiliateMessage(ctx context.Context, sessionID, content string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusClosed {
		return nil, ErrSessionClosed
	}

	msg, err := s.sessions.AppendMessage(domain.ChatMessage{
		SessionID:  sess.ID,
		SenderType: domain.SenderAffiliate,
		SenderName: sess.AffiliateName,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(sess.AffiliateID, realtime.NewMessageEvent(*msg))
	s.notify(*sess, *msg)
	return msg, nil
}

// Reply stores an operator reply, activates a waiting session, and pushes
// the reply to the affiliate.
func (s *Server) Reply(ctx context.Context, sessionID, senderName, content string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if strings.TrimSpace(senderName) == "" {
		senderName = DefaultOperatorName
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusClosed {
		return nil, ErrSessionClosed
	}

	msg, err := s.sessions.AppendMessage(domain.ChatMessage{
		SessionID:  sess.ID,
		SenderType: domain.SenderAdmin,
		SenderName: senderName,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	if sess.Status == domain.StatusWaiting {
		if err := s.sessions.SetStatus(sess.ID, domain.StatusActive); err != nil {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("activating session")
		} else {
			sess.Status = domain.StatusActive
			s.hub.Publish(sess.AffiliateID, realtime.SessionStatusEvent(sess.ID, sess.Status))
		}
	}

	delivered := s.hub.Publish(sess.AffiliateID, realtime.NewMessageEvent(*msg))
	s.log.Info().
		Str("session", sess.ID).
		Str("operator", senderName).
		Int("sockets", delivered).
		Msg("reply posted")

	s.notify(*sess, *msg)
	return msg, nil
}

// CloseSession marks a session closed and tells the affiliate.
func (s *Server) CloseSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.SetStatus(sess.ID, domain.StatusClosed); err != nil {
		return err
	}
	s.hub.Publish(sess.AffiliateID, realtime.SessionStatusEvent(sess.ID, domain.StatusClosed))
	s.log.Info().Str("session", sess.ID).Msg("session closed")
	return nil
}

// Transcript returns a session and its messages.
func (s *Server) Transcript(ctx context.Context, sessionID string) (*domain.ChatSession, []domain.ChatMessage, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.sessions.Messages(sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// Sessions lists sessions, optionally filtered by status.
func (s *Server) Sessions(ctx context.Context, status domain.SessionStatus) ([]domain.ChatSession, error) {
	list, err := s.sessions.List(status, 200)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.ChatSession{}
	}
	return list, nil
}
