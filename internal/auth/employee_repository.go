package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EmployeeRepository persists employee profiles and accounts.
type EmployeeRepository interface {
	CreateProfile(ctx context.Context, profile *EmployeeProfile) error
	CreateAccount(ctx context.Context, account *EmployeeAccount) error
	GetAccountByLoginKey(ctx context.Context, loginKey string) (*EmployeeAccount, error)
	GetAccountByID(ctx context.Context, id int64) (*EmployeeAccount, error)
	GetProfile(ctx context.Context, id int64) (*EmployeeProfile, error)
	CountAccounts(ctx context.Context) (int, error)
}

// SQLiteEmployeeRepository implements EmployeeRepository using SQLite.
type SQLiteEmployeeRepository struct {
	db *sql.DB
}

// NewEmployeeRepository creates a SQLite-backed employee repository.
func NewEmployeeRepository(db *sql.DB) *SQLiteEmployeeRepository {
	return &SQLiteEmployeeRepository{db: db}
}

// CreateProfile inserts a profile and sets its ID from the insert.
func (r *SQLiteEmployeeRepository) CreateProfile(ctx context.Context, profile *EmployeeProfile) error {
	return insertEmployeeProfile(ctx, r.db, profile, time.Now())
}

// CreateAccount inserts an account referencing an existing profile and sets its ID.
func (r *SQLiteEmployeeRepository) CreateAccount(ctx context.Context, account *EmployeeAccount) error {
	return insertEmployeeAccount(ctx, r.db, account, time.Now())
}

// GetAccountByLoginKey returns the employee account for a login key, or ErrNotFound.
func (r *SQLiteEmployeeRepository) GetAccountByLoginKey(ctx context.Context, loginKey string) (*EmployeeAccount, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, profile_id, login_key, secret_hash, created_at FROM employee_accounts WHERE login_key = ?", loginKey)
	return scanEmployeeAccount(row, "getting employee account by login key")
}

// GetAccountByID returns the employee account with the given id, or ErrNotFound.
func (r *SQLiteEmployeeRepository) GetAccountByID(ctx context.Context, id int64) (*EmployeeAccount, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, profile_id, login_key, secret_hash, created_at FROM employee_accounts WHERE id = ?", id)
	return scanEmployeeAccount(row, "getting employee account by id")
}

// GetProfile returns the employee profile with the given id, or ErrNotFound.
func (r *SQLiteEmployeeRepository) GetProfile(ctx context.Context, id int64) (*EmployeeProfile, error) {
	var p EmployeeProfile
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, firstname, lastname, created_at FROM employee_profiles WHERE id = ?", id,
	).Scan(&p.ID, &p.Firstname, &p.Lastname, &createdAt)
	if err != nil {
		return nil, classifyError(err, "getting employee profile")
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// CountAccounts returns the number of employee accounts.
func (r *SQLiteEmployeeRepository) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM employee_accounts").Scan(&count); err != nil {
		return 0, classifyError(err, "counting employee accounts")
	}
	return count, nil
}

func insertEmployeeProfile(ctx context.Context, db execer, profile *EmployeeProfile, now time.Time) error {
	created := formatTime(now)
	result, err := db.ExecContext(ctx,
		"INSERT INTO employee_profiles (firstname, lastname, created_at) VALUES (?, ?, ?)",
		profile.Firstname, profile.Lastname, created,
	)
	if err != nil {
		return classifyError(err, "creating employee profile")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading employee profile id: %w", err)
	}
	profile.ID = id
	profile.CreatedAt = parseTime(created)
	return nil
}

func insertEmployeeAccount(ctx context.Context, db execer, account *EmployeeAccount, now time.Time) error {
	created := formatTime(now)
	result, err := db.ExecContext(ctx,
		"INSERT INTO employee_accounts (profile_id, login_key, secret_hash, created_at) VALUES (?, ?, ?, ?)",
		account.ProfileID, account.LoginKey, account.SecretHash, created,
	)
	if err != nil {
		return classifyError(err, "creating employee account")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading employee account id: %w", err)
	}
	account.ID = id
	account.CreatedAt = parseTime(created)
	return nil
}

func scanEmployeeAccount(s scanner, op string) (*EmployeeAccount, error) {
	var a EmployeeAccount
	var createdAt string
	if err := s.Scan(&a.ID, &a.ProfileID, &a.LoginKey, &a.SecretHash, &createdAt); err != nil {
		return nil, classifyError(err, op)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
