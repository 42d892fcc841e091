package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/nerrad567/smartauth/internal/auth"
)

// Cookie names set by the login endpoints.
const (
	citizenCookieName  = "user_session_token"
	employeeCookieName = "employee_session_token"
)

const maxPasswordLength = 1024

// formBinder is implemented by request types that can also be submitted as
// an HTML form.
type formBinder interface {
	bindForm(values url.Values)
}

// decodeRequest fills dst from a JSON or urlencoded form body. An empty body
// leaves dst untouched.
func decodeRequest(r *http.Request, dst formBinder) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty type falls through to JSON
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		dst.bindForm(r.PostForm)
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// setSessionCookie hands the session token to browsers.
func (s *Server) setSessionCookie(w http.ResponseWriter, name string, session *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    session.Token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectWithToken sends a 302 to target with the token appended as ?token=.
func redirectWithToken(w http.ResponseWriter, r *http.Request, target, token string) {
	u, err := url.Parse(target)
	if err != nil {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// fail answers a failed auth request. A usable redirect_error turns every
// failure into a 302; otherwise the error is written as JSON.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, event, subject, redirectError string, err error) {
	status, code, _ := classifyAuthError(err)
	s.record(r, event, subject, code)

	if redirectError != "" && is.RequestURI.Validate(redirectError) == nil && s.allowedRedirect(redirectError) == nil {
		if status == http.StatusInternalServerError {
			s.logger.Error("request failed", "operation", event, "error", err)
		}
		http.Redirect(w, r, redirectError, http.StatusFound)
		return
	}
	writeAuthError(w, s.logger, event, err)
}

// loginKeyRule checks the shared login key format.
var loginKeyRule = validation.By(func(value interface{}) error {
	key, _ := value.(string)
	if key != "" && !auth.IsValidLoginKey(key) {
		return errors.New("must be 1-64 letters, digits or . _ @ -")
	}
	return nil
})

// errForeignRedirect rejects redirect targets outside the configured origins.
var errForeignRedirect = errors.New("must be a relative path or an allowed redirect origin")

// validateRedirects checks that redirect targets stay on this site or on an
// origin listed in api.redirect_origins. Success redirects carry the session
// token in their query string.
func (s *Server) validateRedirects(success, failure string) error {
	return validation.Errors{
		"redirect_success": validation.Validate(success, validation.By(s.allowedRedirect)),
		"redirect_error":   validation.Validate(failure, validation.By(s.allowedRedirect)),
	}.Filter()
}

func (s *Server) allowedRedirect(value interface{}) error {
	target, _ := value.(string)
	if target == "" {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return errForeignRedirect
	}
	if u.Scheme == "" && u.Host == "" && u.User == nil {
		// "//host" and "/\host" are treated as absolute by browsers.
		if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
			return nil
		}
		return errForeignRedirect
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.User == nil &&
		slices.Contains(s.cfg.RedirectOrigins, u.Scheme+"://"+u.Host) {
		return nil
	}
	return errForeignRedirect
}

// redirectRules validates the optional redirect targets.
func redirectRules(success, failure *string) []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(success, is.RequestURI),
		validation.Field(failure, is.RequestURI),
	}
}

// verifyRequest carries a token in the body of the verify endpoints.
type verifyRequest struct {
	Code string `json:"code"`
}

func (v *verifyRequest) bindForm(values url.Values) {
	v.Code = values.Get("code")
}

// presentedToken returns the bearer token, falling back to the body code.
func presentedToken(r *http.Request) (string, error) {
	if token := bearerToken(r); token != "" {
		return token, nil
	}
	var req verifyRequest
	if err := decodeRequest(r, &req); err != nil {
		return "", err
	}
	return req.Code, nil
}
