package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/customermindiq/affchat/internal/config"
)

// Role is the caller class an endpoint requires.
type Role string

const (
	RoleAffiliate Role = "affiliate"
	RoleAdmin     Role = "admin"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Role   Role   `json:"role,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the tokens the desk accepts.
type ResolvedAuth struct {
	Token      string
	AdminToken string
}

// Open reports whether affiliate endpoints accept unauthenticated callers.
func (a ResolvedAuth) Open() bool { return a.Token == "" }

// ResolveAuth resolves tokens from config, then environment.
func ResolveAuth(cfg config.DeskAuth) ResolvedAuth {
	auth := ResolvedAuth{Token: cfg.Token, AdminToken: cfg.AdminToken}
	if auth.Token == "" {
		auth.Token = os.Getenv("AFFCHAT_DESK_TOKEN")
	}
	if auth.AdminToken == "" {
		auth.AdminToken = os.Getenv("AFFCHAT_DESK_ADMIN_TOKEN")
	}
	return auth
}

// Authorize checks a presented bearer token for the required role. The admin
// token also satisfies affiliate endpoints. With no affiliate token
// configured, affiliate endpoints are open. Admin endpoints fall back to the
// affiliate token when no admin token is set.
func Authorize(auth ResolvedAuth, role Role, presented string) AuthResult {
	isAdmin := auth.AdminToken != "" && presented != "" && safeEqual(presented, auth.AdminToken)

	switch role {
	case RoleAffiliate:
		if isAdmin {
			return AuthResult{OK: true, Role: RoleAdmin}
		}
		if auth.Token == "" {
			return AuthResult{OK: true, Role: RoleAffiliate}
		}
		if presented == "" {
			return AuthResult{Reason: "token required"}
		}
		if !safeEqual(presented, auth.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Role: RoleAffiliate}

	case RoleAdmin:
		if isAdmin {
			return AuthResult{OK: true, Role: RoleAdmin}
		}
		if auth.AdminToken != "" {
			if presented == "" {
				return AuthResult{Reason: "admin token required"}
			}
			return AuthResult{Reason: "token_mismatch"}
		}
		if auth.Token == "" {
			return AuthResult{Reason: "admin token not configured"}
		}
		if presented == "" || !safeEqual(presented, auth.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Role: RoleAdmin}
	}
	return AuthResult{Reason: "unknown role: " + string(role)}
}

// bearerToken extracts the bearer credential from the Authorization header,
// falling back to the token query parameter for browser WebSocket clients.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

// safeEqual performs a constant-time string comparison that does not leak
// the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

// sweep drops expired entries. The server calls it on its housekeeping tick.
func (l *authRateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-authRateWindow)
	for ip, times := range l.failures {
		if kept := recent(times, cutoff); len(kept) == 0 {
			delete(l.failures, ip)
		} else {
			l.failures[ip] = kept
		}
	}
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := recent(l.failures[host], l.now().Add(-authRateWindow))
	if len(kept) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = kept
	return len(kept) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], l.now())
}

func recent(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}
