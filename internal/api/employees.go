package api

import (
	"net/http"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nerrad567/smartauth/internal/audit"
	"github.com/nerrad567/smartauth/internal/auth"
)

const maxNameLength = 128

// employeeRegisterRequest is the body of POST /employees/register. Code is
// "ROOT" or the session token of an existing employee; a bearer token is
// used when it is empty.
type employeeRegisterRequest struct {
	Code            string `json:"code"`
	Firstname       string `json:"firstname"`
	Lastname        string `json:"lastname"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	RedirectSuccess string `json:"redirect_success,omitempty"`
	RedirectError   string `json:"redirect_error,omitempty"`
}

func (e *employeeRegisterRequest) bindForm(values url.Values) {
	e.Code = values.Get("code")
	e.Firstname = values.Get("firstname")
	e.Lastname = values.Get("lastname")
	e.Username = values.Get("username")
	e.Password = values.Get("password")
	e.RedirectSuccess = values.Get("redirect_success")
	e.RedirectError = values.Get("redirect_error")
}

// Validate checks the payload before it reaches the coordinator.
func (e employeeRegisterRequest) Validate() error {
	return validation.ValidateStruct(&e, append([]*validation.FieldRules{
		validation.Field(&e.Code, validation.Required),
		validation.Field(&e.Firstname, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&e.Lastname, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&e.Username, validation.Required, loginKeyRule),
		validation.Field(&e.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	}, redirectRules(&e.RedirectSuccess, &e.RedirectError)...)...)
}

// employeeLoginRequest is the body of POST /employees/login.
type employeeLoginRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	RedirectSuccess string `json:"redirect_success,omitempty"`
	RedirectError   string `json:"redirect_error,omitempty"`
}

func (e *employeeLoginRequest) bindForm(values url.Values) {
	e.Username = values.Get("username")
	e.Password = values.Get("password")
	e.RedirectSuccess = values.Get("redirect_success")
	e.RedirectError = values.Get("redirect_error")
}

// Validate only checks presence.
func (e employeeLoginRequest) Validate() error {
	return validation.ValidateStruct(&e, append([]*validation.FieldRules{
		validation.Field(&e.Username, validation.Required),
		validation.Field(&e.Password, validation.Required),
	}, redirectRules(&e.RedirectSuccess, &e.RedirectError)...)...)
}

type employeeRegisterResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type employeeInfo struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

type employeeSessionResponse struct {
	ID        int64        `json:"id"`
	Username  string       `json:"username"`
	Token     string       `json:"employee_session_token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Info      employeeInfo `json:"info"`
}

func employeeSession(result *auth.EmployeeLoginResult) employeeSessionResponse {
	return employeeSessionResponse{
		ID:        result.Account.ID,
		Username:  result.Account.LoginKey,
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
		Info: employeeInfo{
			Firstname: result.Profile.Firstname,
			Lastname:  result.Profile.Lastname,
		},
	}
}

// handleEmployeeRegister creates an employee behind the ROOT or token gate.
func (s *Server) handleEmployeeRegister(w http.ResponseWriter, r *http.Request) {
	var req employeeRegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Code == "" {
		req.Code = bearerToken(r)
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, eventEmployeeRegister, req.Username, req.RedirectError, err)
		return
	}
	if err := s.validateRedirects(req.RedirectSuccess, req.RedirectError); err != nil {
		s.fail(w, r, eventEmployeeRegister, req.Username, req.RedirectError, err)
		return
	}

	account, err := s.registrations.RegisterEmployee(r.Context(),
		auth.EmployeeProfileInput{Firstname: req.Firstname, Lastname: req.Lastname},
		auth.EmployeeCredentials{LoginKey: req.Username, Password: req.Password},
		req.Code,
	)
	if err != nil {
		s.fail(w, r, eventEmployeeRegister, req.Username, req.RedirectError, err)
		return
	}
	s.record(r, eventEmployeeRegister, idSubject(account.ID), audit.OutcomeOK)

	if req.RedirectSuccess != "" {
		http.Redirect(w, r, req.RedirectSuccess, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusCreated, employeeRegisterResponse{
		ID:       account.ID,
		Username: account.LoginKey,
	})
}

// handleEmployeeLogin authenticates an employee.
func (s *Server) handleEmployeeLogin(w http.ResponseWriter, r *http.Request) {
	var req employeeLoginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, eventEmployeeLogin, req.Username, req.RedirectError, err)
		return
	}
	if err := s.validateRedirects(req.RedirectSuccess, req.RedirectError); err != nil {
		s.fail(w, r, eventEmployeeLogin, req.Username, req.RedirectError, err)
		return
	}

	result, err := s.sessions.LoginEmployee(r.Context(), auth.EmployeeCredentials{
		LoginKey: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, eventEmployeeLogin, req.Username, req.RedirectError, err)
		return
	}
	s.record(r, eventEmployeeLogin, idSubject(result.Account.ID), audit.OutcomeOK)
	s.setSessionCookie(w, employeeCookieName, result.Session)

	if req.RedirectSuccess != "" {
		redirectWithToken(w, r, req.RedirectSuccess, result.Session.Token)
		return
	}
	writeJSON(w, http.StatusOK, employeeSession(result))
}

// handleEmployeeVerify resolves an employee token to its account and profile.
func (s *Server) handleEmployeeVerify(w http.ResponseWriter, r *http.Request) {
	token, err := presentedToken(r)
	if err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	result, err := s.sessions.VerifyEmployee(r.Context(), token)
	if err != nil {
		s.fail(w, r, eventEmployeeVerify, "", "", err)
		return
	}
	s.record(r, eventEmployeeVerify, idSubject(result.Account.ID), audit.OutcomeOK)
	writeJSON(w, http.StatusOK, employeeSession(result))
}
