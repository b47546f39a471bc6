package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/session"
)

const adminKeyHeader = "X-Admin-Key"

// requireVisit runs the access guard for participant routes. Terminal
// denials stop the request; status blocks pass so the visitor can still
// read the session and follow it until it reopens.
func (s *Server) requireVisit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := parseUUIDParam(r, "sessionId")
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
			return
		}
		sess, err := s.sessionSvc.Get(contextFromRequest(r), sid)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		token := extractToken(r)
		decision := access.Evaluate(sess, token)
		if decision.IsAccessError() {
			respondDenied(w, decision.Reason)
			return
		}
		ctx := withVisit(r.Context(), &Visit{
			Session:  sess,
			Token:    token,
			Decision: decision,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAllowed rejects participant writes while the session is blocked.
func (s *Server) requireAllowed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := visitFromContext(r.Context())
		if v == nil {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "missing visit")
			return
		}
		if !v.Decision.Allowed {
			respondError(w, http.StatusConflict, strings.ToUpper(string(v.Decision.Reason)), "session does not accept participant writes")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.admin.Verify(strings.TrimSpace(r.Header.Get(adminKeyHeader))) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondDenied(w http.ResponseWriter, reason access.Reason) {
	switch reason {
	case access.ReasonNotFound:
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
	default:
		respondError(w, http.StatusForbidden, "INVALID_TOKEN", "invitation token rejected")
	}
}

// extractToken returns the invitation token of the request, or nil when
// none was supplied. An empty query value counts as supplied.
func extractToken(r *http.Request) *string {
	if vals, ok := r.URL.Query()["token"]; ok && len(vals) > 0 {
		t := vals[0]
		return &t
	}
	if t := r.Header.Get("X-Invitation-Token"); t != "" {
		return &t
	}
	return nil
}
