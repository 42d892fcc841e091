package auth

import (
	"errors"
	"testing"
	"time"
)

func TestManager_CitizenLoginScenario(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})
	ctx := t.Context()
	seedAccount(t, env.accounts, 1, "CraigAllanRothwell", "SuperSecret123")

	account, err := env.manager.Authenticate(ctx, CitizenCredentials{LoginKey: "CraigAllanRothwell", Password: "SuperSecret123"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if account.ID != 1 {
		t.Errorf("Authenticate().ID = %d, want 1", account.ID)
	}

	_, wrongPassword := env.manager.Authenticate(ctx, CitizenCredentials{LoginKey: "CraigAllanRothwell", Password: "wrong"})
	_, unknownKey := env.manager.Authenticate(ctx, CitizenCredentials{LoginKey: "NoSuchPerson", Password: "SuperSecret123"})
	if !errors.Is(wrongPassword, ErrAuthenticationFailed) {
		t.Errorf("wrong password error = %v, want ErrAuthenticationFailed", wrongPassword)
	}
	if !errors.Is(unknownKey, ErrAuthenticationFailed) {
		t.Errorf("unknown key error = %v, want ErrAuthenticationFailed", unknownKey)
	}
	if wrongPassword.Error() != unknownKey.Error() {
		t.Errorf("failures should be indistinguishable: %q vs %q", wrongPassword, unknownKey)
	}

	result, err := env.manager.Login(ctx, CitizenCredentials{LoginKey: "CraigAllanRothwell", Password: "SuperSecret123"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Reused {
		t.Error("first login should mint a new session")
	}
	if len(result.Session.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(result.Session.Token))
	}
	if got := result.Session.ExpiresAt.Sub(env.clock.Now()); got != 24*time.Hour {
		t.Errorf("session lifetime = %v, want 24h", got)
	}

	validated, err := env.manager.ValidateToken(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if validated.ID != 1 {
		t.Errorf("ValidateToken().ID = %d, want 1", validated.ID)
	}

	if _, err := env.manager.ValidateToken(ctx, "not-a-real-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(unknown) error = %v, want ErrInvalidToken", err)
	}
}

func TestManager_LoginReusesValidSession(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})
	ctx := t.Context()
	seedAccount(t, env.accounts, 5, "reuser", "pw")
	creds := CitizenCredentials{LoginKey: "reuser", Password: "pw"}

	first, err := env.manager.Login(ctx, creds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.clock.Advance(23 * time.Hour)
	second, err := env.manager.Login(ctx, creds)
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if !second.Reused || second.Session.Token != first.Session.Token {
		t.Errorf("second login within lifetime should reuse token, got reused=%v", second.Reused)
	}
	if !second.Session.ExpiresAt.Equal(first.Session.ExpiresAt) {
		t.Error("reuse must not extend the expiry")
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.manager.ValidateToken(ctx, first.Session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(expired) error = %v, want ErrInvalidToken", err)
	}

	third, err := env.manager.Login(ctx, creds)
	if err != nil {
		t.Fatalf("third Login() error = %v", err)
	}
	if third.Reused || third.Session.Token == first.Session.Token {
		t.Error("login after expiry should mint a fresh token")
	}
	if _, err := env.manager.ValidateToken(ctx, third.Session.Token); err != nil {
		t.Errorf("ValidateToken(fresh) error = %v", err)
	}
}

func TestManager_ValidateTokenAtExpiryBoundary(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})
	ctx := t.Context()
	seedAccount(t, env.accounts, 9, "edge", "pw")

	result, err := env.manager.Login(ctx, CitizenCredentials{LoginKey: "edge", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.clock.Advance(SessionLifetime)
	if _, err := env.manager.ValidateToken(ctx, result.Session.Token); err != nil {
		t.Errorf("token should be valid at its expiry instant, got %v", err)
	}
	env.clock.Advance(time.Nanosecond)
	if _, err := env.manager.ValidateToken(ctx, result.Session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token should be invalid after expiry, got %v", err)
	}
}

func TestManager_ValidateTokenRejectsEmpty(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})

	if _, err := env.manager.ValidateToken(t.Context(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(\"\") error = %v, want ErrInvalidToken", err)
	}
	if _, err := env.manager.ValidateEmployeeToken(t.Context(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateEmployeeToken(\"\") error = %v, want ErrInvalidToken", err)
	}
}

func TestManager_EmployeeLoginAndVerify(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{AllowRootBootstrap: true})
	ctx := t.Context()

	creds := EmployeeCredentials{LoginKey: "clerk", Password: "Rathaus2026"}
	account, err := env.coordinator.RegisterEmployee(ctx, EmployeeProfileInput{Firstname: "Erika", Lastname: "Mustermann"}, creds, RootAuthorization)
	if err != nil {
		t.Fatalf("RegisterEmployee() error = %v", err)
	}

	result, err := env.manager.LoginEmployee(ctx, creds)
	if err != nil {
		t.Fatalf("LoginEmployee() error = %v", err)
	}
	if result.Account.ID != account.ID {
		t.Errorf("LoginEmployee().Account.ID = %d, want %d", result.Account.ID, account.ID)
	}
	if result.Profile.Firstname != "Erika" || result.Profile.Lastname != "Mustermann" {
		t.Errorf("LoginEmployee().Profile = %+v", result.Profile)
	}

	verified, err := env.manager.VerifyEmployee(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("VerifyEmployee() error = %v", err)
	}
	if verified.Session.ID != result.Session.ID || verified.Profile.ID != result.Profile.ID {
		t.Error("VerifyEmployee() should return the login's session and profile")
	}

	// An employee token is not a citizen token.
	if _, err := env.manager.ValidateToken(ctx, result.Session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(employee token) error = %v, want ErrInvalidToken", err)
	}

	if _, err := env.manager.LoginEmployee(ctx, EmployeeCredentials{LoginKey: "clerk", Password: "nope"}); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("LoginEmployee(wrong password) error = %v, want ErrAuthenticationFailed", err)
	}
	if _, err := env.manager.LoginEmployee(ctx, EmployeeCredentials{LoginKey: "ghost", Password: "nope"}); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("LoginEmployee(unknown) error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestManager_VerifyCitizen(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})
	ctx := t.Context()
	seedAccount(t, env.accounts, 3, "verify-me", "pw")

	login, err := env.manager.Login(ctx, CitizenCredentials{LoginKey: "verify-me", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	result, err := env.manager.VerifyCitizen(ctx, login.Session.Token)
	if err != nil {
		t.Fatalf("VerifyCitizen() error = %v", err)
	}
	if result.Session.ID != login.Session.ID || result.Account.LoginKey != "verify-me" {
		t.Errorf("VerifyCitizen() = %+v", result)
	}
}

func TestManager_PurgeExpiredSessions(t *testing.T) {
	env := newTestEnv(t, RegistrationPolicy{})
	ctx := t.Context()
	seedAccount(t, env.accounts, 1, "a", "pw")
	seedAccount(t, env.accounts, 2, "b", "pw")

	if _, err := env.manager.Login(ctx, CitizenCredentials{LoginKey: "a", Password: "pw"}); err != nil {
		t.Fatalf("Login(a) error = %v", err)
	}
	env.clock.Advance(12 * time.Hour)
	if _, err := env.manager.Login(ctx, CitizenCredentials{LoginKey: "b", Password: "pw"}); err != nil {
		t.Fatalf("Login(b) error = %v", err)
	}

	env.clock.Advance(13 * time.Hour)
	purged, err := env.manager.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeExpiredSessions() = %d, want 1", purged)
	}
	if _, err := env.sessions.GetLatestByOwner(ctx, 2); err != nil {
		t.Errorf("b's session should survive, got %v", err)
	}
}
