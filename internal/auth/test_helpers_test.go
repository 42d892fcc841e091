package auth

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the identity schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "smartauth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE accounts (
			id INTEGER PRIMARY KEY,
			login_key TEXT NOT NULL UNIQUE,
			secret_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE pending_registrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			citizen_id INTEGER NOT NULL UNIQUE,
			code TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE employee_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			firstname TEXT NOT NULL,
			lastname TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE employee_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id INTEGER NOT NULL REFERENCES employee_profiles(id),
			login_key TEXT NOT NULL UNIQUE,
			secret_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE employee_sessions (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES employee_accounts(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying identity schema: %v", err)
	}

	return db
}

// testClock is a settable clock shared by Manager and Coordinator in tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires real SQLite repositories into a Manager and Coordinator.
type testEnv struct {
	db          *sql.DB
	clock       *testClock
	accounts    *SQLiteAccountRepository
	sessions    *SQLiteSessionRepository
	employees   *SQLiteEmployeeRepository
	empSessions *SQLiteSessionRepository
	pending     *SQLitePendingRepository
	manager     *Manager
	coordinator *Coordinator
}

func newTestEnv(t *testing.T, policy RegistrationPolicy) *testEnv {
	t.Helper()

	db := testDB(t)
	env := &testEnv{
		db:          db,
		clock:       newTestClock(),
		accounts:    NewAccountRepository(db),
		sessions:    NewSessionRepository(db),
		employees:   NewEmployeeRepository(db),
		empSessions: NewEmployeeSessionRepository(db),
		pending:     NewPendingRepository(db),
	}
	env.pending.now = env.clock.Now

	env.manager = NewManager(ManagerDeps{
		Accounts:         env.accounts,
		Sessions:         env.sessions,
		Employees:        env.employees,
		EmployeeSessions: env.empSessions,
		Now:              env.clock.Now,
		Logger:           quietLogger(),
	})
	env.coordinator = NewCoordinator(CoordinatorDeps{
		Accounts:  env.accounts,
		Pending:   env.pending,
		Employees: env.employees,
		Registrar: NewRegistrar(db),
		Tokens:    env.manager,
		Policy:    policy,
		Now:       env.clock.Now,
		Logger:    quietLogger(),
	})
	return env
}

// seedAccount inserts a citizen account with a hashed password.
func seedAccount(t *testing.T, repo AccountRepository, id int64, loginKey, password string) *Account {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	account := &Account{ID: id, LoginKey: loginKey, SecretHash: hash}
	if err := repo.Create(t.Context(), account); err != nil {
		t.Fatalf("creating account %s: %v", loginKey, err)
	}
	return account
}
