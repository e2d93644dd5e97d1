package gateway

import "net/http"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/affiliate/chat/sessions", s.requireRole(RoleAffiliate, s.handleCreateSession))
	mux.HandleFunc("GET /api/affiliate/chat/sessions/{id}/messages", s.requireRole(RoleAffiliate, s.handleListMessages))
	mux.HandleFunc("POST /api/affiliate/chat/sessions/{id}/messages", s.requireRole(RoleAffiliate, s.handlePostMessage))

	mux.HandleFunc("GET /api/admin/chat/sessions", s.requireRole(RoleAdmin, s.handleAdminSessions))
	mux.HandleFunc("POST /api/admin/chat/sessions/{id}/reply", s.requireRole(RoleAdmin, s.handleAdminReply))
	mux.HandleFunc("POST /api/admin/chat/sessions/{id}/close", s.requireRole(RoleAdmin, s.handleAdminClose))

	mux.HandleFunc("GET /ws/affiliate/{affiliate_id}", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) requireRole(role Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authorize(w, r, role); !ok {
			return
		}
		next(w, r)
	}
}
