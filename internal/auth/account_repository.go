package auth

import (
	"context"
	"database/sql"
	"time"
)

// AccountRepository persists citizen accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByLoginKey(ctx context.Context, loginKey string) (*Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
}

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a SQLite-backed citizen account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

// Create inserts an account with its caller-assigned id (the citizen id).
func (r *SQLiteAccountRepository) Create(ctx context.Context, account *Account) error {
	return insertAccount(ctx, r.db, account, time.Now())
}

// GetByLoginKey returns the account for a login key, or ErrNotFound.
func (r *SQLiteAccountRepository) GetByLoginKey(ctx context.Context, loginKey string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, login_key, secret_hash, created_at FROM accounts WHERE login_key = ?", loginKey)
	return scanAccount(row, "getting account by login key")
}

// GetByID returns the account with the given id, or ErrNotFound.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id int64) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, login_key, secret_hash, created_at FROM accounts WHERE id = ?", id)
	return scanAccount(row, "getting account by id")
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execer, account *Account, now time.Time) error {
	created := formatTime(now)
	_, err := db.ExecContext(ctx,
		"INSERT INTO accounts (id, login_key, secret_hash, created_at) VALUES (?, ?, ?, ?)",
		account.ID, account.LoginKey, account.SecretHash, created,
	)
	if err != nil {
		return classifyError(err, "creating account")
	}
	account.CreatedAt = parseTime(created)
	return nil
}

func scanAccount(s scanner, op string) (*Account, error) {
	var a Account
	var createdAt string
	if err := s.Scan(&a.ID, &a.LoginKey, &a.SecretHash, &createdAt); err != nil {
		return nil, classifyError(err, op)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
