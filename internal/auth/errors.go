package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/smartauth/internal/infrastructure/database"
)

// Store errors. Repositories translate driver errors into these so callers
// never inspect SQLite error shapes.
var (
	ErrConnection = errors.New("identity store unavailable")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrConstraint = errors.New("constraint violation")
	ErrNotFound   = errors.New("not found")
)

// Crypto and clock errors. Always internal, never reported as bad credentials.
var (
	ErrHash     = errors.New("password hash failure")
	ErrRNG      = errors.New("random source failure")
	ErrOverflow = errors.New("expiry computation overflow")
)

// ErrUpstream marks failures of the citizen directory or the mail transport.
var ErrUpstream = errors.New("upstream service failure")

// Caller-facing outcomes.
var (
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrInvalidCode          = errors.New("invalid registration code")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrUnauthorized         = errors.New("registration not authorised")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyRegistered    = errors.New("citizen already registered")
)

// classifyError maps a database/sql or go-sqlite3 error onto the store
// taxonomy. The original error stays in the chain for logging.
func classifyError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case database.IsUniqueViolation(err), isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
	case database.IsConstraintViolation(err), isConstraintMessage(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConstraint, err)
	case database.IsUnavailable(err), errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isUniqueViolation matches on the message for errors that lost their
// sqlite3.Error type through wrapping by another layer.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func isConstraintMessage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "NOT NULL constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed")
}
