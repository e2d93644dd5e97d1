package domain

import "time"

// SessionStatus is the server-reported state of a support session.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusClosed  SessionStatus = "closed"
)

// PriorityNormal is the only priority the client submits.
const PriorityNormal = "normal"

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Affiliate identifies the partner user driving the chat widget.
type Affiliate struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Known reports whether the affiliate identity is set.
func (a Affiliate) Known() bool { return a.ID != "" }

// ChatSession binds an affiliate to a single support conversation thread.
// ID is assigned by the server and never changes once set.
type ChatSession struct {
	ID             string        `json:"id"`
	AffiliateID    string        `json:"affiliate_id"`
	AffiliateName  string        `json:"affiliate_name"`
	AffiliateEmail string        `json:"affiliate_email"`
	Subject        string        `json:"subject"`
	Status         SessionStatus `json:"status"`
	Priority       string        `json:"priority"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
