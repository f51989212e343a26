package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRegistrationEndpoint is returned when neither static credentials
	// nor a registration endpoint are available.
	ErrNoRegistrationEndpoint = errors.New("no registration endpoint and no client credentials provided")

	// ErrInvalidState is returned for state parameters that are not mode-tagged
	// or legacy 64-hex values.
	ErrInvalidState = errors.New("invalid OAuth state parameter")

	// ErrStateMismatch is returned when a redirect carries a state that this
	// flow did not generate.
	ErrStateMismatch = errors.New("OAuth state does not match the pending authorization request")

	// ErrRedirectModeConflict is returned when the state prefix and the
	// callback path disagree about which mode the redirect belongs to.
	ErrRedirectModeConflict = errors.New("redirect mode from state parameter conflicts with callback path")

	// ErrMissingAuthorizationCode is recorded when the flow reaches the token
	// request without a code.
	ErrMissingAuthorizationCode = errors.New("an authorization code is required")
)

// DiscoveryError wraps a metadata fetch failure with the URL that was probed.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("metadata discovery failed for %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// RegistrationError is a non-2xx dynamic client registration response.
type RegistrationError struct {
	StatusCode  int
	Body        string
	Code        string
	Description string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("client registration failed: HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// AuthorizationDeniedError carries the error parameters from a redirect.
type AuthorizationDeniedError struct {
	Code        string
	Description string
	URI         string
}

func (e *AuthorizationDeniedError) Error() string {
	msg := "authorization failed: " + e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.URI != "" {
		msg += " (" + e.URI + ")"
	}
	return msg
}

// TokenRequestError is a non-2xx token endpoint response. The raw body is kept
// verbatim for diagnostics.
type TokenRequestError struct {
	StatusCode  int
	StatusText  string
	Body        string
	Code        string
	Description string
}

func (e *TokenRequestError) Error() string {
	return fmt.Sprintf("token request failed: HTTP %d %s: %s", e.StatusCode, e.StatusText, e.Body)
}

// ValidationError reports malformed input or stored data.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
