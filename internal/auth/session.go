package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagerDeps holds the collaborators of a Manager.
type ManagerDeps struct {
	Accounts         AccountRepository
	Sessions         SessionRepository
	Employees        EmployeeRepository
	EmployeeSessions SessionRepository
	Now              func() time.Time // defaults to time.Now
	Logger           *slog.Logger
}

// Manager authenticates credentials, issues sessions and validates tokens
// for both the citizen and the employee namespace.
//
// Manager holds no mutable state besides its collaborators and is safe for
// concurrent use. Every validation reads from the store.
type Manager struct {
	accounts         AccountRepository
	sessions         SessionRepository
	employees        EmployeeRepository
	employeeSessions SessionRepository
	now              func() time.Time
	logger           *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewManager creates a Manager.
func NewManager(deps ManagerDeps) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		accounts:         deps.Accounts,
		sessions:         deps.Sessions,
		employees:        deps.Employees,
		employeeSessions: deps.EmployeeSessions,
		now:              now,
		logger:           logger,
	}
}

// Authenticate checks citizen credentials. An unknown login key and a wrong
// secret both return ErrAuthenticationFailed.
func (m *Manager) Authenticate(ctx context.Context, creds Credentials) (*Account, error) {
	account, err := m.accounts.GetByLoginKey(ctx, creds.Key())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, m.rejectUnknown(creds.Secret())
		}
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	if err := checkSecret(creds.Secret(), account.SecretHash); err != nil {
		return nil, err
	}
	return account, nil
}

// Login authenticates and returns a session, reusing the latest session of
// the account when it is still valid.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	account, err := m.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	session, reused, err := m.resolveSession(ctx, m.sessions, account.ID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("citizen login", "owner_id", account.ID, "session_id", session.ID, "reused", reused)
	return &LoginResult{Account: account, Session: session, Reused: reused}, nil
}

// ValidateToken resolves a citizen token to its account. Unknown and expired
// tokens return ErrInvalidToken. Nothing is written.
func (m *Manager) ValidateToken(ctx context.Context, token string) (*Account, error) {
	result, err := m.VerifyCitizen(ctx, token)
	if err != nil {
		return nil, err
	}
	return result.Account, nil
}

// AuthenticateEmployee checks employee credentials.
func (m *Manager) AuthenticateEmployee(ctx context.Context, creds Credentials) (*EmployeeAccount, error) {
	account, err := m.employees.GetAccountByLoginKey(ctx, creds.Key())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, m.rejectUnknown(creds.Secret())
		}
		return nil, fmt.Errorf("authenticating employee: %w", err)
	}
	if err := checkSecret(creds.Secret(), account.SecretHash); err != nil {
		return nil, err
	}
	return account, nil
}

// LoginEmployee authenticates an employee and returns a session plus the profile.
func (m *Manager) LoginEmployee(ctx context.Context, creds Credentials) (*EmployeeLoginResult, error) {
	account, err := m.AuthenticateEmployee(ctx, creds)
	if err != nil {
		return nil, err
	}

	session, reused, err := m.resolveSession(ctx, m.employeeSessions, account.ID)
	if err != nil {
		return nil, err
	}

	profile, err := m.employees.GetProfile(ctx, account.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("loading employee profile: %w", err)
	}

	m.logger.Info("employee login", "owner_id", account.ID, "session_id", session.ID, "reused", reused)
	return &EmployeeLoginResult{Account: account, Profile: profile, Session: session, Reused: reused}, nil
}

// ValidateEmployeeToken resolves an employee token to its account.
func (m *Manager) ValidateEmployeeToken(ctx context.Context, token string) (*EmployeeAccount, error) {
	session, err := m.lookupValid(ctx, m.employeeSessions, token)
	if err != nil {
		return nil, err
	}
	account, err := m.employees.GetAccountByID(ctx, session.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("validating employee token: %w", err)
	}
	return account, nil
}

// VerifyEmployee validates an employee token and loads the profile.
// The returned Session is the one the token belongs to.
func (m *Manager) VerifyEmployee(ctx context.Context, token string) (*EmployeeLoginResult, error) {
	session, err := m.lookupValid(ctx, m.employeeSessions, token)
	if err != nil {
		return nil, err
	}
	account, err := m.employees.GetAccountByID(ctx, session.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("verifying employee: %w", err)
	}
	profile, err := m.employees.GetProfile(ctx, account.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("loading employee profile: %w", err)
	}
	return &EmployeeLoginResult{Account: account, Profile: profile, Session: session, Reused: true}, nil
}

// VerifyCitizen validates a citizen token and returns the matching session
// alongside the account.
func (m *Manager) VerifyCitizen(ctx context.Context, token string) (*LoginResult, error) {
	session, err := m.lookupValid(ctx, m.sessions, token)
	if err != nil {
		return nil, err
	}
	account, err := m.accounts.GetByID(ctx, session.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("verifying citizen: %w", err)
	}
	return &LoginResult{Account: account, Session: session, Reused: true}, nil
}

// PurgeExpiredSessions deletes expired rows from both session tables.
func (m *Manager) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	now := m.now()
	citizens, err := m.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	employees, err := m.employeeSessions.DeleteExpired(ctx, now)
	if err != nil {
		return citizens, err
	}
	return citizens + employees, nil
}

// resolveSession returns the owner's latest session when it is valid at now,
// otherwise mints and stores a new one. Lookup failures on the reuse path
// fall through to minting.
func (m *Manager) resolveSession(ctx context.Context, repo SessionRepository, ownerID int64) (*Session, bool, error) {
	now := m.now()

	latest, err := repo.GetLatestByOwner(ctx, ownerID)
	switch {
	case err == nil && latest.IsValid(now):
		return latest, true, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		m.logger.Debug("session reuse lookup failed", "owner_id", ownerID, "error", err)
	}

	issued, err := NewSessionToken(now)
	if err != nil {
		return nil, false, fmt.Errorf("issuing session: %w", err)
	}
	session := &Session{
		OwnerID:   ownerID,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: issued.IssuedAt,
	}
	if err := repo.Create(ctx, session); err != nil {
		return nil, false, fmt.Errorf("storing session: %w", err)
	}
	return session, false, nil
}

func (m *Manager) lookupValid(ctx context.Context, repo SessionRepository, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	session, err := repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if !session.IsValid(m.now()) {
		return nil, ErrInvalidToken
	}
	return session, nil
}

// rejectUnknown burns a verification against a throwaway hash so an unknown
// login key costs the same as a wrong password, then fails.
func (m *Manager) rejectUnknown(secret string) error {
	m.dummyOnce.Do(func() {
		hash, err := HashPassword("smartauth-timing-equaliser")
		if err != nil {
			m.logger.Warn("dummy hash unavailable", "error", err)
			return
		}
		m.dummyHash = hash
	})
	if m.dummyHash != "" {
		_, _ = VerifyPassword(secret, m.dummyHash) //nolint:errcheck // result is irrelevant
	}
	return ErrAuthenticationFailed
}

func checkSecret(secret, hash string) error {
	ok, err := VerifyPassword(secret, hash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return ErrAuthenticationFailed
	}
	return nil
}
