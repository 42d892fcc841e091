package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/smartauth/internal/audit"
)

// handleListAudit returns the audit trail to an authenticated employee.
//
// Query parameters: action, principal, subject, outcome, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail is not enabled")
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "employee token required")
		return
	}
	if _, err := s.sessions.VerifyEmployee(r.Context(), token); err != nil {
		writeAuthError(w, s.logger, "list audit", err)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:    q.Get("action"),
		Principal: q.Get("principal"),
		Subject:   q.Get("subject"),
		Outcome:   q.Get("outcome"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
