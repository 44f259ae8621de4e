// Package auth implements the login/registration flow: a small state
// machine over the backend client that persists the credential through
// the session manager on success.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"receiptdesk/internal/api"
	"receiptdesk/internal/session"
)

// State is the flow's position in Idle → Submitting → {Success, Failed}.
type State int

const (
	Idle State = iota
	Submitting
	Success
	Failed
)

// API is the slice of the backend surface the flow needs.
type API interface {
	Login(ctx context.Context, email, password string) (api.TokenResponse, error)
	Register(ctx context.Context, companyName, email, password string) error
}

// Sessions persists the credential on success.
type Sessions interface {
	Persist(cred session.Credential) error
}

// ValidationError is a local, pre-network input failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type loginInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type registerInput struct {
	CompanyName string `validate:"required"`
	Email       string `validate:"required,email"`
	Password    string `validate:"required"`
}

// Flow is the login/registration state machine. One flow instance
// handles one submission at a time; callers check State before
// resubmitting.
type Flow struct {
	api      API
	sessions Sessions
	validate *validator.Validate

	// AutoLogin makes a successful registration chain straight into a
	// login with the same credentials, as one user-visible operation.
	// When false, registration reports success and leaves the session
	// unauthenticated.
	AutoLogin bool

	mu      sync.Mutex
	state   State
	message string
}

// NewFlow creates a Flow with auto-login after registration enabled.
func NewFlow(backend API, sessions Sessions) *Flow {
	return &Flow{
		api:       backend,
		sessions:  sessions,
		validate:  validator.New(),
		AutoLogin: true,
	}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ErrorMessage returns the user-facing message for the last failure.
func (f *Flow) ErrorMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Login performs one login request. On success the credential is
// persisted before the flow reports Success.
func (f *Flow) Login(ctx context.Context, email, password string) error {
	if err := f.checkLogin(email, password); err != nil {
		return f.fail(err)
	}
	f.begin()

	tok, err := f.api.Login(ctx, email, password)
	if err != nil {
		return f.fail(err)
	}
	if err := f.sessions.Persist(session.Credential{Token: tok.Bearer(), Email: email}); err != nil {
		return f.fail(err)
	}

	f.succeed()
	return nil
}

// Register creates the account and, when AutoLogin is set, chains a
// login with the same credentials. Either both requests succeed or the
// flow reports whichever step failed; a partial credential is never
// persisted.
func (f *Flow) Register(ctx context.Context, companyName, email, password string) error {
	in := registerInput{CompanyName: companyName, Email: email, Password: password}
	if err := f.validate.Struct(in); err != nil {
		return f.fail(&ValidationError{Msg: validationMessage(err)})
	}
	f.begin()

	if err := f.api.Register(ctx, companyName, email, password); err != nil {
		return f.fail(err)
	}
	if !f.AutoLogin {
		f.succeed()
		return nil
	}

	tok, err := f.api.Login(ctx, email, password)
	if err != nil {
		return f.fail(err)
	}
	if err := f.sessions.Persist(session.Credential{Token: tok.Bearer(), Email: email}); err != nil {
		return f.fail(err)
	}

	f.succeed()
	return nil
}

func (f *Flow) checkLogin(email, password string) error {
	in := loginInput{Email: email, Password: password}
	if err := f.validate.Struct(in); err != nil {
		return &ValidationError{Msg: validationMessage(err)}
	}
	return nil
}

func (f *Flow) begin() {
	f.mu.Lock()
	f.state = Submitting
	f.message = ""
	f.mu.Unlock()
}

func (f *Flow) succeed() {
	f.mu.Lock()
	f.state = Success
	f.mu.Unlock()
}

func (f *Flow) fail(err error) error {
	f.mu.Lock()
	f.state = Failed
	f.message = Message(err)
	f.mu.Unlock()
	return err
}

// Message renders an auth failure for display. 403 always reads as
// invalid credentials regardless of the body; other 4xx use the
// backend's detail text when present; no-response conditions get a
// fixed message; everything else falls back to a generic one.
func Message(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Msg
	}
	var cerr *api.ClientError
	if errors.As(err, &cerr) {
		if cerr.Status == http.StatusForbidden {
			return "Invalid email or password"
		}
		if cerr.Detail != "" {
			return cerr.Detail
		}
		return http.StatusText(cerr.Status)
	}
	var unreachable *api.Unreachable
	var timeout *api.Timeout
	if errors.As(err, &unreachable) || errors.As(err, &timeout) {
		return "No response from server"
	}
	return "Something went wrong"
}

// validationMessage renders the first violated rule.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid input"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Email":
		if fe.Tag() == "email" {
			return "Enter a valid email address"
		}
		return "Email is required"
	case "Password":
		return "Password is required"
	case "CompanyName":
		return "Company name is required"
	}
	return "Invalid input"
}
