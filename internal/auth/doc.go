// Package auth is the credential and session core of SmartAuth.
//
// It covers two principal namespaces, citizens and employees, with:
//   - Argon2id password hashing with 128-byte salt and key (PHC encoded)
//   - Opaque 64-character bearer tokens valid for 24 hours, no sliding renewal
//   - Session reuse on login while the latest session is still valid
//   - Single-use registration codes that turn an announced citizen into an account
//   - An employee registration gate (ROOT bootstrap or a valid employee token)
//
// Persistence is SQLite through database/sql. Repositories translate driver
// errors into the sentinels in errors.go, so callers branch with errors.Is
// and never on SQLite error shapes.
//
// Unknown login keys and wrong passwords are indistinguishable to callers,
// including in response time.
package auth
