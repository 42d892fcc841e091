package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RootAuthorization is the bootstrap value accepted for the first employee.
const RootAuthorization = "ROOT"

// maxNameLength bounds employee first and last names.
const maxNameLength = 128

// RegistrationPolicy controls the employee gate and pending code expiry.
type RegistrationPolicy struct {
	// AllowRootBootstrap accepts "ROOT" while no employee account exists.
	AllowRootBootstrap bool

	// RootBootstrapAlways accepts "ROOT" regardless of existing employees.
	RootBootstrapAlways bool

	// PendingCodeTTL rejects codes older than this. Zero disables expiry.
	PendingCodeTTL time.Duration
}

// TokenValidator resolves employee tokens for the registration gate.
type TokenValidator interface {
	ValidateEmployeeToken(ctx context.Context, token string) (*EmployeeAccount, error)
}

// CoordinatorDeps holds the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Accounts  AccountRepository
	Pending   PendingRepository
	Employees EmployeeRepository
	Registrar Registrar
	Tokens    TokenValidator
	Policy    RegistrationPolicy
	Now       func() time.Time
	Logger    *slog.Logger
}

// Coordinator turns pending codes into citizen accounts and registers employees.
type Coordinator struct {
	accounts  AccountRepository
	pending   PendingRepository
	employees EmployeeRepository
	registrar Registrar
	tokens    TokenValidator
	policy    RegistrationPolicy
	now       func() time.Time
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		accounts:  deps.Accounts,
		pending:   deps.Pending,
		employees: deps.Employees,
		registrar: deps.Registrar,
		tokens:    deps.Tokens,
		policy:    deps.Policy,
		now:       now,
		logger:    logger,
	}
}

// CreatePendingRegistration issues a registration code for a citizen.
//
// Repeated calls for the same citizen return the same outstanding code until
// it expires under PendingCodeTTL; after that a fresh code replaces it.
// Citizens that already hold an account get ErrAlreadyRegistered.
func (c *Coordinator) CreatePendingRegistration(ctx context.Context, citizenID int64) (*PendingRegistration, error) {
	if citizenID <= 0 {
		return nil, fmt.Errorf("citizen id %d: %w", citizenID, ErrInvalidInput)
	}
	registered, err := c.isRegistered(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, fmt.Errorf("citizen %d: %w", citizenID, ErrAlreadyRegistered)
	}

	var staleBefore time.Time
	if c.policy.PendingCodeTTL > 0 {
		staleBefore = c.now().Add(-c.policy.PendingCodeTTL)
	}
	p, err := c.pending.Create(ctx, citizenID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("creating pending registration: %w", err)
	}
	return p, nil
}

// RegisterAccount exchanges a pending code for a citizen account whose id is
// the citizen id. The code is deleted in the same transaction.
func (c *Coordinator) RegisterAccount(ctx context.Context, code string, creds CitizenCredentials) (*Account, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidCode
	}

	pending, err := c.pending.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("looking up registration code: %w", err)
	}
	if c.policy.PendingCodeTTL > 0 && c.now().Sub(pending.CreatedAt) > c.policy.PendingCodeTTL {
		return nil, ErrInvalidCode
	}

	hash, err := HashPassword(creds.Secret())
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	account := &Account{
		ID:         pending.CitizenID,
		LoginKey:   creds.Key(),
		SecretHash: hash,
	}
	if err := c.registrar.RegisterCitizen(ctx, pending.ID, account); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, ErrInvalidCode
		}
		if errors.Is(err, ErrDuplicate) {
			// The clash may be on the citizen id rather than the login key.
			if registered, lookupErr := c.isRegistered(ctx, account.ID); lookupErr == nil && registered {
				return nil, fmt.Errorf("citizen %d: %w", account.ID, ErrAlreadyRegistered)
			}
		}
		return nil, fmt.Errorf("registering citizen: %w", err)
	}

	c.logger.Info("citizen registered", "citizen_id", account.ID, "login_key", account.LoginKey)
	return account, nil
}

// RegisterEmployee creates an employee profile and account. authorization
// must be RootAuthorization (subject to policy) or a valid employee token.
func (c *Coordinator) RegisterEmployee(
	ctx context.Context,
	input EmployeeProfileInput,
	creds EmployeeCredentials,
	authorization string,
) (*EmployeeAccount, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	firstname := strings.TrimSpace(input.Firstname)
	lastname := strings.TrimSpace(input.Lastname)
	if firstname == "" || lastname == "" || len(firstname) > maxNameLength || len(lastname) > maxNameLength {
		return nil, fmt.Errorf("employee name: %w", ErrInvalidInput)
	}

	authorizedBy, bootstrap, err := c.authorizeEmployee(ctx, authorization)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(creds.Secret())
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	profile := &EmployeeProfile{Firstname: firstname, Lastname: lastname}
	account := &EmployeeAccount{LoginKey: creds.Key(), SecretHash: hash}
	register := c.registrar.RegisterEmployee
	if bootstrap {
		register = c.registrar.BootstrapEmployee
	}
	if err := register(ctx, profile, account); err != nil {
		return nil, fmt.Errorf("registering employee: %w", err)
	}

	c.logger.Info("employee registered",
		"employee_id", account.ID,
		"profile_id", profile.ID,
		"login_key", account.LoginKey,
		"authorized_by", authorizedBy,
	)
	return account, nil
}

// PurgeStalePending deletes codes older than the policy TTL. It is a no-op
// when codes never expire.
func (c *Coordinator) PurgeStalePending(ctx context.Context) (int64, error) {
	if c.policy.PendingCodeTTL <= 0 {
		return 0, nil
	}
	return c.pending.DeleteCreatedBefore(ctx, c.now().Add(-c.policy.PendingCodeTTL))
}

// authorizeEmployee applies the registration gate. It returns a label for
// logging and whether the registration must be the first employee account.
//
// The emptiness check here only fails fast before hashing; the registrar
// repeats it inside the insert transaction.
func (c *Coordinator) authorizeEmployee(ctx context.Context, authorization string) (string, bool, error) {
	if authorization == "" {
		return "", false, ErrUnauthorized
	}

	if authorization == RootAuthorization {
		if c.policy.RootBootstrapAlways {
			return "root", false, nil
		}
		if !c.policy.AllowRootBootstrap {
			return "", false, ErrUnauthorized
		}
		count, err := c.employees.CountAccounts(ctx)
		if err != nil {
			return "", false, fmt.Errorf("checking bootstrap state: %w", err)
		}
		if count > 0 {
			return "", false, ErrUnauthorized
		}
		return "root-bootstrap", true, nil
	}

	employee, err := c.tokens.ValidateEmployeeToken(ctx, authorization)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return "", false, ErrUnauthorized
		}
		return "", false, fmt.Errorf("checking authorization token: %w", err)
	}
	return fmt.Sprintf("employee:%d", employee.ID), false, nil
}

// isRegistered reports whether an account already uses the citizen id.
func (c *Coordinator) isRegistered(ctx context.Context, citizenID int64) (bool, error) {
	if c.accounts == nil {
		return false, nil
	}
	_, err := c.accounts.GetByID(ctx, citizenID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("checking existing account: %w", err)
	}
}

func validateCredentials(creds Credentials) error {
	if !IsValidLoginKey(creds.Key()) {
		return fmt.Errorf("login key: %w", ErrInvalidInput)
	}
	if creds.Secret() == "" {
		return fmt.Errorf("password: %w", ErrInvalidInput)
	}
	return nil
}
