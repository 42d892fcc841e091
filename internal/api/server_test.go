package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/smartauth/internal/audit"
	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/directory"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
	"github.com/nerrad567/smartauth/internal/infrastructure/database"
	"github.com/nerrad567/smartauth/internal/infrastructure/logging"
	_ "github.com/nerrad567/smartauth/migrations"
)

// ─── Test doubles ───────────────────────────────────────────────────

type stubDirectory struct {
	mu  sync.Mutex
	err error
}

func (s *stubDirectory) GetProfile(_ context.Context, citizenID int64) (*directory.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	email := fmt.Sprintf("citizen%d@example.org", citizenID)
	return &directory.Profile{Firstname: "Craig", Lastname: "Rothwell", Email: &email}, nil
}

func (s *stubDirectory) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type recordingMetrics struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMetrics) RecordAuthEvent(event, outcome string) {
	m.mu.Lock()
	m.events = append(m.events, event+"/"+outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) has(want string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == want {
			return true
		}
	}
	return false
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv         *Server
	router      http.Handler
	coordinator *auth.Coordinator
	directory   *stubDirectory
	metrics     *recordingMetrics
	audit       *audit.SQLiteRepository
}

// newTestEnv builds a Server over a migrated SQLite file in a temp dir.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	employees := auth.NewEmployeeRepository(db.DB)
	manager := auth.NewManager(auth.ManagerDeps{
		Accounts:         auth.NewAccountRepository(db.DB),
		Sessions:         auth.NewSessionRepository(db.DB),
		Employees:        employees,
		EmployeeSessions: auth.NewEmployeeSessionRepository(db.DB),
		Logger:           log.Logger,
	})
	coordinator := auth.NewCoordinator(auth.CoordinatorDeps{
		Accounts:  auth.NewAccountRepository(db.DB),
		Pending:   auth.NewPendingRepository(db.DB),
		Employees: employees,
		Registrar: auth.NewRegistrar(db.DB),
		Tokens:    manager,
		Policy:    auth.RegistrationPolicy{AllowRootBootstrap: true},
		Logger:    log.Logger,
	})

	env := &testEnv{
		coordinator: coordinator,
		directory:   &stubDirectory{},
		metrics:     &recordingMetrics{},
		audit:       audit.NewSQLiteRepository(db.DB),
	}
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:            "127.0.0.1",
			CookieDomain:    "smartcity.test",
			Portal:          config.PortalConfig{Enabled: true},
			RedirectOrigins: []string{"https://portal.smartcity.test"},
		},
		Service:       config.ServiceConfig{Name: "SmartAuth", APIVersion: "1"},
		Logger:        log,
		Sessions:      manager,
		Registrations: coordinator,
		Directory:     env.directory,
		Metrics:       env.metrics,
		Audit:         env.audit,
		Checks:        map[string]HealthChecker{"database": db},
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) postJSON(t *testing.T, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postForm(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// pendingCode issues a registration code for citizenID.
func (e *testEnv) pendingCode(t *testing.T, citizenID int64) string {
	t.Helper()
	p, err := e.coordinator.CreatePendingRegistration(t.Context(), citizenID)
	if err != nil {
		t.Fatalf("CreatePendingRegistration(%d) error: %v", citizenID, err)
	}
	return p.Code
}

// registerCitizen registers CraigAllanRothwell as citizen 42.
func (e *testEnv) registerCitizen(t *testing.T) {
	t.Helper()
	w := e.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "CraigAllanRothwell",
		"password": "SuperSecret123",
		"code":     e.pendingCode(t, 42),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if got := decode[Error](t, w); got.Code != code {
		t.Errorf("error code = %q, want %q", got.Code, code)
	}
}

// ─── System endpoints ───────────────────────────────────────────────

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	resp := decode[PingResponse](t, w)
	if resp.APIVersion != "1" || resp.ServerVersion != "test" {
		t.Errorf("ping = %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Components["database"] != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t)
	env.srv.checks["bridge"] = checkFunc(func(context.Context) error { return errors.New("bridge idle") })

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "degraded" || resp.Components["bridge"] != "error" || resp.Components["database"] != "ok" {
		t.Errorf("health = %+v", resp)
	}
}

// ─── Middleware ─────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		wantCredits string
	}{
		{"listed origin", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000", "true"},
		{"unlisted origin", []string{"http://localhost:3000"}, "http://evil.test", "", ""},
		{"wildcard", []string{"*"}, "http://kiosk.test", "http://kiosk.test", ""},
		{"disabled", nil, "http://localhost:3000", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.cfg.CORS.AllowedOrigins = tt.allowed

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/citizens/login", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("ACAO = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredits {
				t.Errorf("ACAC = %q, want %q", got, tt.wantCredits)
			}
		})
	}
}

func TestRequestID_Sanitised(t *testing.T) {
	env := newTestEnv(t)

	for _, supplied := range []string{"bad id with spaces", strings.Repeat("a", 65), "<script>"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set("X-Request-ID", supplied)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if got == supplied || got == "" {
			t.Errorf("X-Request-ID for %q = %q, want a generated id", supplied, got)
		}
	}
}

func TestAPIResponseHeaders(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	body := strings.Repeat("x", maxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/citizens/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestPortal(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/portal/citizen.html", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/citizens/login") {
		t.Errorf("GET /portal/citizen.html status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/portal", nil))
	if w.Code != http.StatusMovedPermanently || w.Header().Get("Location") != "/portal/" {
		t.Errorf("GET /portal = %d -> %q", w.Code, w.Header().Get("Location"))
	}

	// The portal's own redirect targets pass request validation.
	form := url.Values{
		"username":         {"nobody"},
		"password":         {"pw"},
		"redirect_success": {"/portal/result.html?outcome=login"},
		"redirect_error":   {"/portal/result.html?outcome=error"},
	}
	w = env.postForm(t, "/api/v1/citizens/login", form)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/portal/result.html?outcome=error" {
		t.Errorf("form login = %d -> %q", w.Code, w.Header().Get("Location"))
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
}

// ─── Citizens ───────────────────────────────────────────────────────

func TestCitizenFlow(t *testing.T) {
	env := newTestEnv(t)
	code := env.pendingCode(t, 42)

	w := env.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "CraigAllanRothwell",
		"password": "SuperSecret123",
		"code":     code,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	reg := decode[citizenRegisterResponse](t, w)
	if reg.CitizenID != 42 || reg.Username != "CraigAllanRothwell" {
		t.Errorf("register = %+v", reg)
	}

	w = env.postJSON(t, "/api/v1/citizens/login", map[string]string{
		"username": "CraigAllanRothwell",
		"password": "SuperSecret123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	login := decode[citizenSessionResponse](t, w)
	if login.CitizenID != 42 || len(login.Token) != auth.TokenLength {
		t.Errorf("login = %+v", login)
	}
	if login.Info == nil || login.Info.FullName() != "Craig Rothwell" {
		t.Errorf("login info = %+v", login.Info)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "user_session_token" || cookies[0].Value != login.Token {
		t.Fatalf("cookies = %+v", cookies)
	}
	if !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode || cookies[0].Domain != "smartcity.test" {
		t.Errorf("cookie attributes = %+v", cookies[0])
	}

	// Second login reuses the session.
	w = env.postJSON(t, "/api/v1/citizens/login", map[string]string{
		"username": "CraigAllanRothwell",
		"password": "SuperSecret123",
	})
	if again := decode[citizenSessionResponse](t, w); again.Token != login.Token {
		t.Error("second login should reuse the valid session")
	}

	// Verify via body and via bearer header.
	w = env.postJSON(t, "/api/v1/citizens/verify", map[string]string{"code": login.Token})
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", w.Code, w.Body.String())
	}
	if v := decode[citizenSessionResponse](t, w); v.CitizenID != 42 || v.Username != "CraigAllanRothwell" {
		t.Errorf("verify = %+v", v)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citizens/verify", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer verify status = %d", w.Code)
	}

	for _, event := range []string{"citizen_register/ok", "citizen_login/ok", "citizen_verify/ok"} {
		if !env.metrics.has(event) {
			t.Errorf("metrics missing %q", event)
		}
	}
}

func TestCitizenRegister_Errors(t *testing.T) {
	env := newTestEnv(t)
	code := env.pendingCode(t, 42)

	w := env.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "CraigAllanRothwell", "password": "SuperSecret123", "code": "WrongCode1",
	})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidCode)

	w = env.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "CraigAllanRothwell", "password": "SuperSecret123", "code": code,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}

	// The code is single-use.
	w = env.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "SomeoneElse", "password": "SuperSecret123", "code": code,
	})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidCode)

	// The login key is taken.
	w = env.postJSON(t, "/api/v1/citizens/register", map[string]string{
		"username": "CraigAllanRothwell", "password": "other", "code": env.pendingCode(t, 43),
	})
	wantError(t, w, http.StatusConflict, ErrCodeConflict)

	if !env.metrics.has("citizen_register/conflict") {
		t.Error("conflict should be recorded")
	}
}

func TestCitizenRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing password", map[string]string{"username": "craig", "code": "x"}},
		{"missing code", map[string]string{"username": "craig", "password": "pw"}},
		{"username with spaces", map[string]string{"username": "craig rothwell", "password": "pw", "code": "x"}},
		{"bad redirect", map[string]string{"username": "craig", "password": "pw", "code": "x", "redirect_success": "::not a uri"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postJSON(t, "/api/v1/citizens/register", tt.body)
			wantError(t, w, http.StatusBadRequest, ErrCodeValidation)
		})
	}
}

func TestCitizenLogin_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.registerCitizen(t)

	wrong := env.postJSON(t, "/api/v1/citizens/login", map[string]string{
		"username": "CraigAllanRothwell", "password": "wrong",
	})
	wantError(t, wrong, http.StatusUnauthorized, ErrCodeInvalidCredentials)

	unknown := env.postJSON(t, "/api/v1/citizens/login", map[string]string{
		"username": "NoSuchUser", "password": "SuperSecret123",
	})
	wantError(t, unknown, http.StatusUnauthorized, ErrCodeInvalidCredentials)

	if wrong.Body.String() != unknown.Body.String() {
		t.Errorf("unknown user and wrong password must look identical:\n%s\n%s", wrong.Body, unknown.Body)
	}
	if len(wrong.Result().Cookies()) != 0 {
		t.Error("failed login must not set a cookie")
	}
}

func TestCitizenLogin_DirectoryDown(t *testing.T) {
	env := newTestEnv(t)
	env.registerCitizen(t)
	env.directory.fail(directory.ErrRequestFailed)

	w := env.postJSON(t, "/api/v1/citizens/login", map[string]string{
		"username": "CraigAllanRothwell", "password": "SuperSecret123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200 without directory", w.Code)
	}
	if strings.Contains(w.Body.String(), `"info"`) {
		t.Errorf("info should be omitted: %s", w.Body.String())
	}
}

func TestCitizenVerify_Rejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/v1/citizens/verify", map[string]string{"code": "not-a-real-token"})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidToken)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citizens/verify", strings.NewReader("{"))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	wantError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestCitizenForm_Redirects(t *testing.T) {
	env := newTestEnv(t)

	w := env.postForm(t, "/api/v1/citizens/register", url.Values{
		"username":         {"CraigAllanRothwell"},
		"password":         {"SuperSecret123"},
		"code":             {env.pendingCode(t, 42)},
		"redirect_success": {"/page/login"},
		"redirect_error":   {"/page/register?failed=1"},
	})
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/page/login" {
		t.Fatalf("register redirect = %d %q", w.Code, w.Header().Get("Location"))
	}

	w = env.postForm(t, "/api/v1/citizens/login", url.Values{
		"username":         {"CraigAllanRothwell"},
		"password":         {"SuperSecret123"},
		"redirect_success": {"https://portal.smartcity.test/home"},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	token := loc.Query().Get("token")
	if loc.Host != "portal.smartcity.test" || loc.Path != "/home" || len(token) != auth.TokenLength {
		t.Errorf("Location = %s", loc)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 1 || cookies[0].Value != token {
		t.Error("redirecting login should still set the session cookie")
	}

	w = env.postForm(t, "/api/v1/citizens/login", url.Values{
		"username":       {"CraigAllanRothwell"},
		"password":       {"wrong"},
		"redirect_error": {"/page/login?failed=1"},
	})
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/page/login?failed=1" {
		t.Errorf("failed login redirect = %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestLoginRedirect_ForeignTargetsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.registerCitizen(t)

	for _, target := range []string{
		"https://evil.test/collect",
		"//evil.test/collect",
		"/\\evil.test/collect",
		"http://portal.smartcity.test/home",
		"https://user@portal.smartcity.test/home",
		"javascript:alert(1)",
	} {
		w := env.postForm(t, "/api/v1/citizens/login", url.Values{
			"username":         {"CraigAllanRothwell"},
			"password":         {"SuperSecret123"},
			"redirect_success": {target},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("redirect_success %q: status = %d, want 400", target, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "" {
			t.Errorf("redirect_success %q: Location = %q, want none", target, loc)
		}
		if len(w.Result().Cookies()) != 0 {
			t.Errorf("redirect_success %q: session cookie set for a rejected request", target)
		}
	}

	// A foreign error target is never followed; the failure is answered as JSON.
	w := env.postForm(t, "/api/v1/citizens/login", url.Values{
		"username":       {"CraigAllanRothwell"},
		"password":       {"wrong"},
		"redirect_error": {"https://evil.test/oops"},
	})
	if w.Code != http.StatusBadRequest || w.Header().Get("Location") != "" {
		t.Errorf("foreign redirect_error = %d %q, want 400 without redirect", w.Code, w.Header().Get("Location"))
	}
}

// ─── Employees ──────────────────────────────────────────────────────

func TestEmployeeFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"code": "ROOT", "firstname": "Ada", "lastname": "Admin",
		"username": "ada", "password": "RootPassw0rd",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("root register status = %d, body = %s", w.Code, w.Body.String())
	}
	if reg := decode[employeeRegisterResponse](t, w); reg.ID == 0 || reg.Username != "ada" {
		t.Errorf("register = %+v", reg)
	}

	// ROOT only bootstraps the first employee.
	w = env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"code": "ROOT", "firstname": "Eve", "lastname": "Late",
		"username": "eve", "password": "pw",
	})
	wantError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

	w = env.postJSON(t, "/api/v1/employees/login", map[string]string{"username": "ada", "password": "RootPassw0rd"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	login := decode[employeeSessionResponse](t, w)
	if login.Info.Firstname != "Ada" || login.Info.Lastname != "Admin" || len(login.Token) != auth.TokenLength {
		t.Errorf("login = %+v", login)
	}
	if c := w.Result().Cookies(); len(c) != 1 || c[0].Name != "employee_session_token" {
		t.Errorf("cookies = %+v", c)
	}

	// An employee token authorises the next registration, via bearer header.
	w = env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"firstname": "Bob", "lastname": "Builder", "username": "bob", "password": "pw",
	}, "Authorization", "Bearer "+login.Token)
	if w.Code != http.StatusCreated {
		t.Fatalf("token register status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.postJSON(t, "/api/v1/employees/verify", map[string]string{"code": login.Token})
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d", w.Code)
	}
	if v := decode[employeeSessionResponse](t, w); v.ID != login.ID || v.Token != login.Token {
		t.Errorf("verify = %+v", v)
	}

	// Employee tokens are not citizen tokens.
	w = env.postJSON(t, "/api/v1/citizens/verify", map[string]string{"code": login.Token})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidToken)
}

// employeeToken bootstraps ada through ROOT and logs her in.
func (e *testEnv) employeeToken(t *testing.T) string {
	t.Helper()
	w := e.postJSON(t, "/api/v1/employees/register", map[string]string{
		"code": "ROOT", "firstname": "Ada", "lastname": "Admin",
		"username": "ada", "password": "RootPassw0rd",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("root register status = %d, body = %s", w.Code, w.Body.String())
	}
	w = e.postJSON(t, "/api/v1/employees/login", map[string]string{"username": "ada", "password": "RootPassw0rd"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[employeeSessionResponse](t, w).Token
}

func (e *testEnv) getAudit(t *testing.T, query, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/employees/audit"+query, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	env.registerCitizen(t)
	env.postJSON(t, "/api/v1/citizens/login", map[string]string{"username": "CraigAllanRothwell", "password": "wrong"})
	token := env.employeeToken(t)

	w := env.getAudit(t, "?principal=citizen", token)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d, body = %s", w.Code, w.Body.String())
	}
	result := decode[audit.ListResult](t, w)
	if result.Total != 2 {
		t.Fatalf("citizen entries = %d, want 2: %+v", result.Total, result.Logs)
	}
	failed := result.Logs[0]
	if failed.Action != audit.ActionLogin || failed.Outcome != ErrCodeInvalidCredentials || failed.Subject != "CraigAllanRothwell" {
		t.Errorf("failed login entry = %+v", failed)
	}
	if failed.RequestID == "" {
		t.Error("failed login entry has no request id")
	}
	registered := result.Logs[1]
	if registered.Action != audit.ActionRegister || registered.Outcome != audit.OutcomeOK || registered.Subject != "42" {
		t.Errorf("register entry = %+v", registered)
	}

	// Passwords and tokens never reach the trail.
	if strings.Contains(w.Body.String(), "SuperSecret123") || strings.Contains(w.Body.String(), token) {
		t.Error("audit trail leaked a secret")
	}

	w = env.getAudit(t, "?principal=employee&action=login&limit=1", token)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	if result := decode[audit.ListResult](t, w); result.Total != 1 || result.Limit != 1 || result.Logs[0].Subject == "" {
		t.Errorf("employee login entries = %+v", result)
	}
}

func TestAuditTrail_Rejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.employeeToken(t)

	wantError(t, env.getAudit(t, "", ""), http.StatusUnauthorized, ErrCodeUnauthorized)
	wantError(t, env.getAudit(t, "", strings.Repeat("x", auth.TokenLength)), http.StatusUnauthorized, ErrCodeInvalidToken)
	wantError(t, env.getAudit(t, "?limit=ten", token), http.StatusBadRequest, ErrCodeBadRequest)

	env.srv.audit = nil
	wantError(t, env.getAudit(t, "", token), http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestEmployeeRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"firstname": "Ada", "lastname": "Admin", "username": "ada", "password": "pw",
	})
	wantError(t, w, http.StatusBadRequest, ErrCodeValidation)

	w = env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"code": "ROOT", "firstname": "", "lastname": "Admin", "username": "ada", "password": "pw",
	})
	wantError(t, w, http.StatusBadRequest, ErrCodeValidation)

	w = env.postJSON(t, "/api/v1/employees/register", map[string]string{
		"code": "not-a-token", "firstname": "Ada", "lastname": "Admin", "username": "ada", "password": "pw",
	})
	wantError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestEmployeeLogin_Rejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/v1/employees/login", map[string]string{"username": "ghost", "password": "pw"})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidCredentials)

	w = env.postJSON(t, "/api/v1/employees/verify", map[string]string{"code": "nope"})
	wantError(t, w, http.StatusUnauthorized, ErrCodeInvalidToken)
}

// ─── Construction and error mapping ─────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")

	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without session manager should fail")
	}
	if _, err := New(Deps{Logger: log, Sessions: &auth.Manager{}}); err == nil {
		t.Error("New() without coordinator should fail")
	}
}

func TestClassifyAuthError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrAuthenticationFailed, http.StatusUnauthorized, ErrCodeInvalidCredentials},
		{fmt.Errorf("wrapped: %w", auth.ErrInvalidCode), http.StatusUnauthorized, ErrCodeInvalidCode},
		{auth.ErrInvalidToken, http.StatusUnauthorized, ErrCodeInvalidToken},
		{auth.ErrUnauthorized, http.StatusUnauthorized, ErrCodeUnauthorized},
		{fmt.Errorf("registering citizen: %w", auth.ErrDuplicate), http.StatusConflict, ErrCodeConflict},
		{fmt.Errorf("citizen 42: %w", auth.ErrAlreadyRegistered), http.StatusConflict, ErrCodeAlreadyRegistered},
		{fmt.Errorf("employee name: %w", auth.ErrInvalidInput), http.StatusBadRequest, ErrCodeValidation},
		{auth.ErrConnection, http.StatusInternalServerError, ErrCodeInternal},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code, message := classifyAuthError(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classifyAuthError(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
			}
			if status == http.StatusInternalServerError && strings.Contains(message, tt.err.Error()) {
				t.Errorf("internal error details leaked: %q", message)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
