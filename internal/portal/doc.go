// Package portal serves the static sign-in and registration pages.
//
// The pages are plain HTML forms that post urlencoded bodies to the
// /api/v1 endpoints with redirect_success and redirect_error set, so they
// work without any client-side framework. Assets are embedded with go:embed;
// a directory on disk can override them during development.
package portal
