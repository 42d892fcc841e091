package auth

import (
	"regexp"
	"time"
)

// loginKeyPattern allows letters, digits, dots, hyphens, underscores and @, 1-64 characters.
var loginKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,64}$`)

// IsValidLoginKey checks the login key format shared by both namespaces.
func IsValidLoginKey(key string) bool {
	return loginKeyPattern.MatchString(key)
}

// Credentials is a login key and secret pair presented by a principal.
type Credentials interface {
	Key() string
	Secret() string
}

// CitizenCredentials authenticate against the citizen accounts table.
type CitizenCredentials struct {
	LoginKey string
	Password string
}

// Key returns the login key.
func (c CitizenCredentials) Key() string { return c.LoginKey }

// Secret returns the plaintext password.
func (c CitizenCredentials) Secret() string { return c.Password }

// EmployeeCredentials authenticate against the employee accounts table.
type EmployeeCredentials struct {
	LoginKey string
	Password string
}

// Key returns the login key.
func (c EmployeeCredentials) Key() string { return c.LoginKey }

// Secret returns the plaintext password.
func (c EmployeeCredentials) Secret() string { return c.Password }

// Account is a citizen login. ID equals the citizen id in the external registry.
type Account struct {
	ID         int64     `json:"id"`
	LoginKey   string    `json:"login_key"`
	SecretHash string    `json:"-"` // never serialised
	CreatedAt  time.Time `json:"created_at"`
}

// Session binds an opaque bearer token to an account until ExpiresAt.
// OwnerID refers to accounts.id or employee_accounts.id depending on the table.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Token     string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsValid reports whether the session is still usable at now.
// The expiry instant itself is still valid.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && !now.After(s.ExpiresAt)
}

// PendingRegistration links a citizen id to a single-use registration code.
type PendingRegistration struct {
	ID        int64     `json:"id"`
	CitizenID int64     `json:"citizen_id"`
	Code      string    `json:"-"` // never serialised
	CreatedAt time.Time `json:"created_at"`
}

// EmployeeProfile is the personal record an employee account points at.
type EmployeeProfile struct {
	ID        int64     `json:"id"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	CreatedAt time.Time `json:"created_at"`
}

// EmployeeProfileInput carries the profile fields supplied at employee registration.
type EmployeeProfileInput struct {
	Firstname string
	Lastname  string
}

// EmployeeAccount is an employee login.
type EmployeeAccount struct {
	ID         int64     `json:"id"`
	ProfileID  int64     `json:"profile_id"`
	LoginKey   string    `json:"login_key"`
	SecretHash string    `json:"-"` // never serialised
	CreatedAt  time.Time `json:"created_at"`
}

// LoginResult is returned by a successful citizen login.
type LoginResult struct {
	Account *Account
	Session *Session
	Reused  bool // Session was an existing valid row rather than a new one
}

// EmployeeLoginResult is returned by a successful employee login or verification.
type EmployeeLoginResult struct {
	Account *EmployeeAccount
	Profile *EmployeeProfile
	Session *Session
	Reused  bool
}
