package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// AuthorizationRequest is the input to CreateAuthorizationURL. Scope and
// Resource are omitted from the URL when empty. State is generated for Mode
// when not preset.
type AuthorizationRequest struct {
	Metadata    *AuthorizationServerMetadata
	ClientID    string
	RedirectURI string
	Scope       string
	Resource    string
	Mode        AuthType
	State       string
}

// AuthorizationStart is what the caller needs to send the user off and later
// redeem the code. CodeVerifier must be persisted, never shown.
type AuthorizationStart struct {
	AuthorizationURL string
	CodeVerifier     string
	CodeChallenge    string
	State            string
}

// ErrPKCENotAdvertised is returned by CheckPKCESupport when the server does
// not list any challenge method. Callers may proceed with S256 anyway.
var ErrPKCENotAdvertised = errors.New("authorization server does not advertise code_challenge_methods_supported")

// CheckPKCESupport fails when the server lists challenge methods without S256.
func CheckPKCESupport(meta *AuthorizationServerMetadata) error {
	if meta == nil || len(meta.CodeChallengeMethods) == 0 {
		return ErrPKCENotAdvertised
	}
	if !slices.Contains(meta.CodeChallengeMethods, pkceMethodS256) {
		return fmt.Errorf("authorization server does not support S256 PKCE method (only: %v)", meta.CodeChallengeMethods)
	}
	return nil
}

// CreateAuthorizationURL builds the authorization endpoint URL with a fresh
// PKCE pair.
func CreateAuthorizationURL(req AuthorizationRequest) (*AuthorizationStart, error) {
	if req.Metadata == nil || req.Metadata.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("authorization endpoint is unknown")
	}
	if req.ClientID == "" {
		return nil, &ValidationError{Field: "client_id", Message: "required"}
	}
	if req.RedirectURI == "" {
		return nil, &ValidationError{Field: "redirect_uri", Message: "required"}
	}
	if err := CheckPKCESupport(req.Metadata); err != nil && !errors.Is(err, ErrPKCENotAdvertised) {
		return nil, err
	}

	state := req.State
	if state == "" {
		mode := req.Mode
		if mode == "" {
			mode = AuthTypeNormal
		}
		var err error
		if state, err = GenerateOAuthStateWithMode(mode); err != nil {
			return nil, err
		}
	}

	authURL, err := url.Parse(req.Metadata.AuthorizationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	pkce := GeneratePKCE()

	q := authURL.Query()
	q.Set("response_type", responseTypeCode)
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	q.Set("state", state)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("code_challenge_method", pkce.CodeChallengeMethod)
	if req.Resource != "" {
		q.Set("resource", req.Resource)
	}
	authURL.RawQuery = q.Encode()

	return &AuthorizationStart{
		AuthorizationURL: authURL.String(),
		CodeVerifier:     pkce.CodeVerifier,
		CodeChallenge:    pkce.CodeChallenge,
		State:            state,
	}, nil
}
