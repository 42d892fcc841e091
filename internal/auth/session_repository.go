package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepository persists bearer sessions for one principal namespace.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetLatestByOwner(ctx context.Context, ownerID int64) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository over one session table.
type SQLiteSessionRepository struct {
	db    *sql.DB
	table string
}

// NewSessionRepository returns the repository for citizen sessions.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db, table: "sessions"}
}

// NewEmployeeSessionRepository returns the repository for employee sessions.
func NewEmployeeSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db, table: "employee_sessions"}
}

// Create inserts a session. The ID is generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = "ses-" + uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, owner_id, token, expires_at, created_at) VALUES (?, ?, ?, ?, ?)", r.table), //nolint:gosec // table name is a constant
		session.ID, session.OwnerID, session.Token,
		formatTime(session.ExpiresAt), formatTime(session.CreatedAt),
	)
	if err != nil {
		return classifyError(err, "creating session")
	}
	return nil
}

// GetLatestByOwner returns the owner's session with the furthest expiry,
// whether or not it is still valid. Callers check validity.
func (r *SQLiteSessionRepository) GetLatestByOwner(ctx context.Context, ownerID int64) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, owner_id, token, expires_at, created_at FROM %s
		 WHERE owner_id = ? ORDER BY expires_at DESC LIMIT 1`, r.table), //nolint:gosec // table name is a constant
		ownerID)
	return scanSession(row, "getting latest session")
}

// GetByToken looks a session up by exact token match.
func (r *SQLiteSessionRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, owner_id, token, expires_at, created_at FROM %s WHERE token = ?", r.table), //nolint:gosec // table name is a constant
		token)
	return scanSession(row, "getting session by token")
}

// DeleteExpired removes sessions whose expiry is strictly before now.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", r.table), //nolint:gosec // table name is a constant
		formatTime(now))
	if err != nil {
		return 0, classifyError(err, "deleting expired sessions")
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanSession(s scanner, op string) (*Session, error) {
	var sess Session
	var expiresAt, createdAt string
	if err := s.Scan(&sess.ID, &sess.OwnerID, &sess.Token, &expiresAt, &createdAt); err != nil {
		return nil, classifyError(err, op)
	}
	sess.ExpiresAt = parseTime(expiresAt)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}
