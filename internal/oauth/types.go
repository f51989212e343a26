package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// OAuthStep is one stage of the authorization flow.
type OAuthStep string

const (
	StepMetadataDiscovery     OAuthStep = "metadata_discovery"
	StepClientRegistration    OAuthStep = "client_registration"
	StepAuthorizationRedirect OAuthStep = "authorization_redirect"
	StepAuthorizationCode     OAuthStep = "authorization_code"
	StepTokenRequest          OAuthStep = "token_request"
	StepComplete              OAuthStep = "complete"
)

var stepOrder = []OAuthStep{
	StepMetadataDiscovery,
	StepClientRegistration,
	StepAuthorizationRedirect,
	StepAuthorizationCode,
	StepTokenRequest,
	StepComplete,
}

// Steps returns the flow steps in execution order.
func Steps() []OAuthStep {
	out := make([]OAuthStep, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// Index returns the position of the step in the flow, or -1 if unknown.
func (s OAuthStep) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step that follows s. StepComplete is terminal.
func (s OAuthStep) Next() OAuthStep {
	i := s.Index()
	if i < 0 || i >= len(stepOrder)-1 {
		return StepComplete
	}
	return stepOrder[i+1]
}

// AuthType selects between the automatic and the step-by-step flow.
type AuthType string

const (
	AuthTypeNormal AuthType = "normal"
	AuthTypeGuided AuthType = "guided"
)

// Valid reports whether t is a known mode.
func (t AuthType) Valid() bool {
	return t == AuthTypeNormal || t == AuthTypeGuided
}

// ProtectedResourceMetadata is RFC 9728 protected resource metadata.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// AuthorizationServerMetadata is RFC 8414 / OpenID Connect Discovery metadata.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer" validate:"required,url"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint" validate:"required,url"`
	TokenEndpoint                     string   `json:"token_endpoint" validate:"required,url"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty" validate:"omitempty,url"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty" validate:"omitempty,url"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	CodeChallengeMethods              []string `json:"code_challenge_methods_supported,omitempty"`
	ClientIDMetadataDocumentSupported bool     `json:"client_id_metadata_document_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// ClientInformation holds the credentials a client uses at the token endpoint,
// either issued by dynamic registration or supplied by the user.
type ClientInformation struct {
	ClientID                string   `json:"client_id" validate:"required"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty" validate:"gte=0"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty" validate:"gte=0"`
	RedirectURIs            []string `json:"redirect_uris,omitempty" validate:"omitempty,dive,url"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// Tokens is an OAuth token endpoint response.
type Tokens struct {
	AccessToken  string `json:"access_token" validate:"required"`
	TokenType    string `json:"token_type" validate:"required"`
	ExpiresIn    int64  `json:"expires_in,omitempty" validate:"gte=0"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// OAuth2Token converts the response into an *oauth2.Token. The expiry is
// computed relative to now because the response only carries a lifetime.
func (t *Tokens) OAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": t.IDToken, "scope": t.Scope})
	}
	return tok
}

// AuthGuidedState is the in-memory record of one authentication attempt. Each
// step fills in its own fields; a failing step only sets LatestError.
type AuthGuidedState struct {
	AuthID                string                       `json:"authId"`
	AuthType              AuthType                     `json:"authType"`
	OAuthStep             OAuthStep                    `json:"oauthStep"`
	ResourceMetadata      *ProtectedResourceMetadata   `json:"resourceMetadata,omitempty"`
	ResourceMetadataError string                       `json:"resourceMetadataError,omitempty"`
	OAuthMetadata         *AuthorizationServerMetadata `json:"oauthMetadata,omitempty"`
	AuthServerURL         string                       `json:"authServerUrl,omitempty"`
	ResourceURL           string                       `json:"resourceUrl,omitempty"`
	OAuthClientInfo       *ClientInformation           `json:"oauthClientInfo,omitempty"`
	AuthorizationURL      string                       `json:"authorizationUrl,omitempty"`
	AuthorizationCode     string                       `json:"authorizationCode,omitempty"`
	State                 string                       `json:"state,omitempty"`
	Scope                 string                       `json:"scope,omitempty"`
	ValidationError       string                       `json:"validationError,omitempty"`
	OAuthTokens           *Tokens                      `json:"oauthTokens,omitempty"`
	LatestError           string                       `json:"latestError,omitempty"`
	LatestErrorStep       OAuthStep                    `json:"latestErrorStep,omitempty"`
	IsInitiatingAuth      bool                         `json:"isInitiatingAuth"`
}
