package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nerrad567/smartauth/internal/audit"
	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/directory"
)

// Auth event names reported to metrics. Each is "<principal>_<action>" so
// the audit trail can split it.
const (
	eventCitizenRegister  = "citizen_register"
	eventCitizenLogin     = "citizen_login"
	eventCitizenVerify    = "citizen_verify"
	eventEmployeeRegister = "employee_register"
	eventEmployeeLogin    = "employee_login"
	eventEmployeeVerify   = "employee_verify"
)

// citizenRegisterRequest is the body of POST /citizens/register.
type citizenRegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	Code            string `json:"code"`
	RedirectSuccess string `json:"redirect_success,omitempty"`
	RedirectError   string `json:"redirect_error,omitempty"`
}

func (c *citizenRegisterRequest) bindForm(values url.Values) {
	c.Username = values.Get("username")
	c.Password = values.Get("password")
	c.Code = values.Get("code")
	c.RedirectSuccess = values.Get("redirect_success")
	c.RedirectError = values.Get("redirect_error")
}

// Validate checks the payload before it reaches the coordinator.
func (c citizenRegisterRequest) Validate() error {
	return validation.ValidateStruct(&c, append([]*validation.FieldRules{
		validation.Field(&c.Username, validation.Required, loginKeyRule),
		validation.Field(&c.Password, validation.Required, validation.Length(1, maxPasswordLength)),
		validation.Field(&c.Code, validation.Required),
	}, redirectRules(&c.RedirectSuccess, &c.RedirectError)...)...)
}

// citizenLoginRequest is the body of POST /citizens/login.
type citizenLoginRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	RedirectSuccess string `json:"redirect_success,omitempty"`
	RedirectError   string `json:"redirect_error,omitempty"`
}

func (c *citizenLoginRequest) bindForm(values url.Values) {
	c.Username = values.Get("username")
	c.Password = values.Get("password")
	c.RedirectSuccess = values.Get("redirect_success")
	c.RedirectError = values.Get("redirect_error")
}

// Validate only checks presence. A malformed username is a failed login,
// not a validation error.
func (c citizenLoginRequest) Validate() error {
	return validation.ValidateStruct(&c, append([]*validation.FieldRules{
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
	}, redirectRules(&c.RedirectSuccess, &c.RedirectError)...)...)
}

type citizenRegisterResponse struct {
	CitizenID int64  `json:"citizen_id"`
	Username  string `json:"username"`
}

type citizenSessionResponse struct {
	CitizenID int64              `json:"citizen_id"`
	Username  string             `json:"username"`
	Token     string             `json:"user_session_token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Info      *directory.Profile `json:"info,omitempty"`
}

// handleCitizenRegister exchanges a pending code for a citizen account.
func (s *Server) handleCitizenRegister(w http.ResponseWriter, r *http.Request) {
	var req citizenRegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, eventCitizenRegister, req.Username, req.RedirectError, err)
		return
	}
	if err := s.validateRedirects(req.RedirectSuccess, req.RedirectError); err != nil {
		s.fail(w, r, eventCitizenRegister, req.Username, req.RedirectError, err)
		return
	}

	account, err := s.registrations.RegisterAccount(r.Context(), req.Code, auth.CitizenCredentials{
		LoginKey: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, eventCitizenRegister, req.Username, req.RedirectError, err)
		return
	}
	s.record(r, eventCitizenRegister, idSubject(account.ID), audit.OutcomeOK)

	if req.RedirectSuccess != "" {
		http.Redirect(w, r, req.RedirectSuccess, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusCreated, citizenRegisterResponse{
		CitizenID: account.ID,
		Username:  account.LoginKey,
	})
}

// handleCitizenLogin authenticates a citizen and returns the session token,
// as JSON and as a cookie.
func (s *Server) handleCitizenLogin(w http.ResponseWriter, r *http.Request) {
	var req citizenLoginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, eventCitizenLogin, req.Username, req.RedirectError, err)
		return
	}
	if err := s.validateRedirects(req.RedirectSuccess, req.RedirectError); err != nil {
		s.fail(w, r, eventCitizenLogin, req.Username, req.RedirectError, err)
		return
	}

	result, err := s.sessions.Login(r.Context(), auth.CitizenCredentials{
		LoginKey: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, eventCitizenLogin, req.Username, req.RedirectError, err)
		return
	}
	s.record(r, eventCitizenLogin, idSubject(result.Account.ID), audit.OutcomeOK)
	s.setSessionCookie(w, citizenCookieName, result.Session)

	if req.RedirectSuccess != "" {
		redirectWithToken(w, r, req.RedirectSuccess, result.Session.Token)
		return
	}
	writeJSON(w, http.StatusOK, s.citizenSession(r.Context(), result))
}

// handleCitizenVerify resolves a citizen token to its account.
func (s *Server) handleCitizenVerify(w http.ResponseWriter, r *http.Request) {
	token, err := presentedToken(r)
	if err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	result, err := s.sessions.VerifyCitizen(r.Context(), token)
	if err != nil {
		s.fail(w, r, eventCitizenVerify, "", "", err)
		return
	}
	s.record(r, eventCitizenVerify, idSubject(result.Account.ID), audit.OutcomeOK)
	writeJSON(w, http.StatusOK, s.citizenSession(r.Context(), result))
}

func (s *Server) citizenSession(ctx context.Context, result *auth.LoginResult) citizenSessionResponse {
	return citizenSessionResponse{
		CitizenID: result.Account.ID,
		Username:  result.Account.LoginKey,
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
		Info:      s.lookupProfile(ctx, result.Account.ID),
	}
}

// lookupProfile fetches the directory record for the response. Failures are
// logged and leave the info field out.
func (s *Server) lookupProfile(ctx context.Context, citizenID int64) *directory.Profile {
	if s.directory == nil {
		return nil
	}
	profile, err := s.directory.GetProfile(ctx, citizenID)
	if err != nil {
		s.logger.Warn("citizen directory lookup failed", "citizen_id", citizenID, "error", err)
		return nil
	}
	return profile
}
