package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxCodeAttempts bounds retries when a generated code collides with an existing one.
const maxCodeAttempts = 5

// PendingRepository persists registration codes waiting to be claimed.
type PendingRepository interface {
	Create(ctx context.Context, citizenID int64, staleBefore time.Time) (*PendingRegistration, error)
	GetByCode(ctx context.Context, code string) (*PendingRegistration, error)
	GetByCitizen(ctx context.Context, citizenID int64) (*PendingRegistration, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLitePendingRepository implements PendingRepository using SQLite.
type SQLitePendingRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPendingRepository creates a SQLite-backed pending registration repository.
func NewPendingRepository(db *sql.DB) *SQLitePendingRepository {
	return &SQLitePendingRepository{db: db, now: time.Now}
}

// Create generates a code for the citizen and stores it.
//
// If the citizen already has a code created at or after staleBefore, that
// row is returned unchanged, so a redelivered event never produces a second
// code. An older row is reissued in place with a new code and timestamp.
// A zero staleBefore keeps existing codes forever.
func (r *SQLitePendingRepository) Create(ctx context.Context, citizenID int64, staleBefore time.Time) (*PendingRegistration, error) {
	// No stored timestamp sorts below the empty string.
	cutoff := ""
	if !staleBefore.IsZero() {
		cutoff = formatTime(staleBefore)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewPendingCode()
		if err != nil {
			return nil, err
		}

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO pending_registrations (citizen_id, code, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(citizen_id) DO UPDATE SET code = excluded.code, created_at = excluded.created_at
			 WHERE pending_registrations.created_at < ?`,
			citizenID, code, formatTime(r.now()), cutoff,
		)
		if err == nil {
			return r.GetByCitizen(ctx, citizenID)
		}

		// A unique violation here can only be the code column.
		if classified := classifyError(err, "creating pending registration"); !errors.Is(classified, ErrDuplicate) {
			return nil, classified
		}
	}
	return nil, fmt.Errorf("creating pending registration: %d code collisions: %w", maxCodeAttempts, ErrDuplicate)
}

// GetByCode returns the registration holding code, or ErrNotFound.
func (r *SQLitePendingRepository) GetByCode(ctx context.Context, code string) (*PendingRegistration, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, citizen_id, code, created_at FROM pending_registrations WHERE code = ?", code)
	return scanPending(row, "getting pending registration by code")
}

// GetByCitizen returns the outstanding registration for a citizen, or ErrNotFound.
func (r *SQLitePendingRepository) GetByCitizen(ctx context.Context, citizenID int64) (*PendingRegistration, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, citizen_id, code, created_at FROM pending_registrations WHERE citizen_id = ?", citizenID)
	return scanPending(row, "getting pending registration by citizen")
}

// DeleteCreatedBefore purges codes older than cutoff.
func (r *SQLitePendingRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM pending_registrations WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, classifyError(err, "deleting stale pending registrations")
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanPending(s scanner, op string) (*PendingRegistration, error) {
	var p PendingRegistration
	var createdAt string
	if err := s.Scan(&p.ID, &p.CitizenID, &p.Code, &createdAt); err != nil {
		return nil, classifyError(err, op)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
