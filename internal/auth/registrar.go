package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Registrar performs the multi-row writes of registration atomically.
type Registrar interface {
	RegisterCitizen(ctx context.Context, pendingID int64, account *Account) error
	RegisterEmployee(ctx context.Context, profile *EmployeeProfile, account *EmployeeAccount) error
	BootstrapEmployee(ctx context.Context, profile *EmployeeProfile, account *EmployeeAccount) error
}

// SQLiteRegistrar implements Registrar with one transaction per registration.
type SQLiteRegistrar struct {
	db *sql.DB
}

// NewRegistrar creates a SQLite-backed registrar.
func NewRegistrar(db *sql.DB) *SQLiteRegistrar {
	return &SQLiteRegistrar{db: db}
}

// RegisterCitizen consumes the pending registration and creates the account
// in one transaction. If the code was consumed concurrently the account is
// not created and ErrInvalidCode is returned.
func (r *SQLiteRegistrar) RegisterCitizen(ctx context.Context, pendingID int64, account *Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err, "beginning citizen registration")
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx, "DELETE FROM pending_registrations WHERE id = ?", pendingID)
	if err != nil {
		return classifyError(err, "consuming registration code")
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("consuming registration code: %w", ErrInvalidCode)
	}

	if err := insertAccount(ctx, tx, account, time.Now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError(err, "committing citizen registration")
	}
	return nil
}

// RegisterEmployee inserts the profile and then the account that references
// the profile's new id, in one transaction.
func (r *SQLiteRegistrar) RegisterEmployee(ctx context.Context, profile *EmployeeProfile, account *EmployeeAccount) error {
	return r.registerEmployee(ctx, profile, account, false)
}

// BootstrapEmployee registers the first employee. It returns ErrUnauthorized
// if any employee account exists when the transaction runs.
//
// The database runs on a single connection, so transactions are serialised
// and concurrent bootstrap attempts admit exactly one employee.
func (r *SQLiteRegistrar) BootstrapEmployee(ctx context.Context, profile *EmployeeProfile, account *EmployeeAccount) error {
	return r.registerEmployee(ctx, profile, account, true)
}

func (r *SQLiteRegistrar) registerEmployee(ctx context.Context, profile *EmployeeProfile, account *EmployeeAccount, firstOnly bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err, "beginning employee registration")
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if firstOnly {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM employee_accounts)").Scan(&exists); err != nil {
			return classifyError(err, "checking bootstrap state")
		}
		if exists {
			return fmt.Errorf("root bootstrap: employee accounts exist: %w", ErrUnauthorized)
		}
	}

	now := time.Now()
	if err := insertEmployeeProfile(ctx, tx, profile, now); err != nil {
		return err
	}
	account.ProfileID = profile.ID
	if err := insertEmployeeAccount(ctx, tx, account, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError(err, "committing employee registration")
	}
	return nil
}
