// Package api implements the HTTP boundary of SmartAuth.
//
// Endpoints live under /api/v1:
//   - GET  /health, /ping
//   - POST /citizens/{register,login,verify}
//   - POST /employees/{register,login,verify}
//   - GET  /employees/audit (employee bearer token)
//
// When enabled, the static sign-in pages are served under /portal/.
//
// Bodies are JSON or urlencoded forms. Login sets a session cookie next to
// the JSON token. Verify accepts the token in the body or as a bearer header.
// redirect_success and redirect_error turn responses into 302s for plain
// HTML forms.
//
// # Errors
//
// Failures carry {status, code, message}. Unknown login keys and wrong
// passwords produce byte-identical 401 bodies. Internal errors are logged and
// reported without detail.
//
// Every register, login and verify attempt is counted in metrics and, when an
// audit repository is configured, written to the audit trail.
package api
