package api

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/infrastructure/logging"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInvalidCode        = "invalid_code"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeConflict           = "conflict"
	ErrCodeAlreadyRegistered  = "already_registered"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeUnavailable        = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifyAuthError maps an error from the auth layer to a status code and
// error code. Unknown errors map to 500.
func classifyAuthError(err error) (int, string, string) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, ErrCodeValidation, verrs.Error()
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeValidation, "invalid input"
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials"
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusUnauthorized, ErrCodeInvalidCode, "invalid registration code"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, ErrCodeInvalidToken, "invalid or expired token"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized, "registration not authorised"
	case errors.Is(err, auth.ErrAlreadyRegistered):
		return http.StatusConflict, ErrCodeAlreadyRegistered, "citizen already registered"
	case errors.Is(err, auth.ErrDuplicate):
		return http.StatusConflict, ErrCodeConflict, "username already taken"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
}

// writeAuthError writes the response for err. Details of internal errors are
// logged, never returned.
func writeAuthError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	status, code, message := classifyAuthError(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "operation", op, "error", err)
	}
	writeError(w, status, code, message)
}
