package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// Config describes the server to authenticate against and the client to
// present. RedirectURL receives normal-mode redirects; GuidedRedirectURL
// defaults to RedirectURL with a "/guided" suffix.
type Config struct {
	ServerURL         string
	RedirectURL       string
	GuidedRedirectURL string

	ClientID     string
	ClientSecret string
	ClientName   string
	PublicClient bool

	// Scope overrides scope discovery when set.
	Scope string

	RegistrationToken   string
	ClientIDMetadataURL string
	PreferredAuthServer string

	// ResourceURI overrides the RFC 8707 resource. DeriveResource derives one
	// from ServerURL when the server publishes no resource metadata.
	ResourceURI    string
	DeriveResource bool
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithHTTPClient sets the client used for every outgoing request.
func WithHTTPClient(c *http.Client) Option {
	return func(m *StateMachine) { m.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *StateMachine) { m.logger = l }
}

// WithOnChange registers a callback invoked with a snapshot after every
// operation that may have changed the flow state.
func WithOnChange(fn func(AuthGuidedState)) Option {
	return func(m *StateMachine) { m.onChange = fn }
}

// StateMachine drives one server's authorization flow in quick or guided mode.
// Its methods are serialised; it does not coordinate with other machines or
// processes working on the same server URL.
type StateMachine struct {
	mu sync.Mutex

	cfg        Config
	storage    Storage
	httpClient *http.Client
	logger     *logging.Logger
	onChange   func(AuthGuidedState)

	discoverer *Discoverer
	registrar  *Registrar
	tokens     *TokenClient

	state     AuthGuidedState
	challenge *WWWAuthenticateChallenge
}

// NewStateMachine validates cfg and returns a machine positioned at the start
// of a normal-mode flow.
func NewStateMachine(cfg Config, storage Storage, opts ...Option) (*StateMachine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if _, err := originOf(cfg.ServerURL); err != nil {
		return nil, err
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	if _, err := url.Parse(cfg.RedirectURL); err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	if cfg.GuidedRedirectURL == "" {
		cfg.GuidedRedirectURL = strings.TrimSuffix(cfg.RedirectURL, "/") + "/guided"
	}

	m := &StateMachine{cfg: cfg, storage: storage}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = NewHTTPClient()
	}
	m.discoverer = NewDiscoverer(m.httpClient, m.logger)
	m.registrar = NewRegistrar(m.httpClient, m.logger)
	m.tokens = NewTokenClient(m.httpClient, m.logger)
	m.state = newFlowState(AuthTypeNormal)
	return m, nil
}

func newFlowState(mode AuthType) AuthGuidedState {
	return AuthGuidedState{
		AuthID:    uuid.NewString(),
		AuthType:  mode,
		OAuthStep: StepMetadataDiscovery,
	}
}

// ServerURL returns the server this machine authenticates against.
func (m *StateMachine) ServerURL() string { return m.cfg.ServerURL }

// Storage returns the backing store.
func (m *StateMachine) Storage() Storage { return m.storage }

// State returns a copy of the current flow state. Nested metadata is shared
// and must be treated as read-only.
func (m *StateMachine) State() AuthGuidedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run executes fn under the lock and notifies the change listener afterwards.
func (m *StateMachine) run(fn func() error) error {
	m.mu.Lock()
	err := fn()
	snap := m.state
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(snap)
	}
	return err
}

// Authenticate starts a new normal-mode flow, runs discovery, registration
// and the authorization URL step, and returns the URL to open. The flow then
// waits for CompleteOAuthFlow.
func (m *StateMachine) Authenticate(ctx context.Context) (string, error) {
	var authURL string
	err := m.run(func() error {
		m.state = newFlowState(AuthTypeNormal)
		m.state.IsInitiatingAuth = true
		defer func() { m.state.IsInitiatingAuth = false }()

		for m.state.OAuthStep != StepAuthorizationCode {
			if err := m.advance(ctx); err != nil {
				return err
			}
		}
		authURL = m.state.AuthorizationURL
		return nil
	})
	return authURL, err
}

// CompleteOAuthFlow redeems code and persists the tokens. A machine that did
// not start the flow itself resumes it from Storage.
func (m *StateMachine) CompleteOAuthFlow(ctx context.Context, code string) (*Tokens, error) {
	var tokens *Tokens
	err := m.run(func() error {
		var err error
		tokens, err = m.complete(ctx, code)
		return err
	})
	return tokens, err
}

func (m *StateMachine) complete(ctx context.Context, code string) (*Tokens, error) {
	switch {
	case m.state.OAuthStep == StepComplete:
		return nil, fmt.Errorf("flow %s is already complete; start a new authorization", m.state.AuthID)
	case m.state.OAuthStep == StepMetadataDiscovery && m.state.OAuthMetadata == nil:
		if err := m.resume(AuthTypeNormal); err != nil {
			return nil, err
		}
	case m.state.OAuthStep.Index() < StepAuthorizationCode.Index():
		return nil, fmt.Errorf("flow is not waiting for an authorization code (current step %s)", m.state.OAuthStep)
	}

	m.state.AuthorizationCode = strings.TrimSpace(code)
	for m.state.OAuthStep != StepComplete {
		if err := m.advance(ctx); err != nil {
			return nil, err
		}
	}
	return m.state.OAuthTokens, nil
}

// resume rebuilds a flow waiting for its code from what Storage kept.
func (m *StateMachine) resume(mode AuthType) error {
	meta, err := m.storage.GetServerMetadata(m.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("load server metadata: %w", err)
	}
	if meta == nil {
		return fmt.Errorf("no pending authorization for %s", m.cfg.ServerURL)
	}
	client, err := m.loadClient()
	if err != nil {
		return err
	}

	scope, err := m.storage.GetScope(m.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("load scope: %w", err)
	}
	resource, err := m.storedResource()
	if err != nil {
		return err
	}

	m.state = newFlowState(mode)
	m.state.OAuthMetadata = meta
	m.state.OAuthClientInfo = client
	m.state.ResourceURL = resource
	m.state.Scope = scope
	m.state.OAuthStep = StepAuthorizationCode
	m.logger.InfoVerbose("Resumed pending authorization for %s from storage", m.cfg.ServerURL)
	return nil
}

// storedResource returns the configured resource override or the one the
// last authorization request was built with.
func (m *StateMachine) storedResource() (string, error) {
	if m.cfg.ResourceURI != "" {
		return m.cfg.ResourceURI, nil
	}
	resource, err := m.storage.GetResource(m.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("load resource: %w", err)
	}
	return resource, nil
}

// StartGuided discards any in-memory flow and starts a guided one at
// metadata discovery without executing anything.
func (m *StateMachine) StartGuided() AuthGuidedState {
	var snap AuthGuidedState
	_ = m.run(func() error {
		m.state = newFlowState(AuthTypeGuided)
		snap = m.state
		return nil
	})
	return snap
}

// ProceedToNextStep executes exactly one step. On failure the step is left
// unchanged so calling again retries it.
func (m *StateMachine) ProceedToNextStep(ctx context.Context) error {
	return m.run(func() error { return m.advance(ctx) })
}

// RunGuidedToCompletion advances until the flow completes, a step fails, or
// the flow needs an authorization code that has not been supplied yet.
func (m *StateMachine) RunGuidedToCompletion(ctx context.Context) error {
	return m.run(func() error { return m.runToCompletion(ctx) })
}

func (m *StateMachine) runToCompletion(ctx context.Context) error {
	for m.state.OAuthStep != StepComplete {
		if m.state.OAuthStep == StepAuthorizationCode && strings.TrimSpace(m.state.AuthorizationCode) == "" {
			return nil
		}
		if err := m.advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetGuidedAuthorizationCode stores a code for the token request, typically
// pasted by a person or delivered by the callback server. With autoAdvance
// the flow runs to completion.
func (m *StateMachine) SetGuidedAuthorizationCode(ctx context.Context, code string, autoAdvance bool) error {
	return m.run(func() error { return m.setCode(ctx, code, autoAdvance) })
}

func (m *StateMachine) setCode(ctx context.Context, code string, autoAdvance bool) error {
	code = strings.TrimSpace(code)
	if code == "" {
		m.state.ValidationError = "You need to provide an authorization code"
		return &ValidationError{Field: "authorization_code", Message: "empty"}
	}
	if m.state.OAuthStep != StepAuthorizationCode && m.state.OAuthStep != StepTokenRequest {
		return fmt.Errorf("flow is not waiting for an authorization code (current step %s)", m.state.OAuthStep)
	}

	m.state.AuthorizationCode = code
	m.state.ValidationError = ""
	if !autoAdvance {
		return nil
	}
	return m.runToCompletion(ctx)
}

// advance runs the executor for the current step and moves forward on
// success. Must be called with mu held.
func (m *StateMachine) advance(ctx context.Context) error {
	step := m.state.OAuthStep

	var err error
	switch step {
	case StepMetadataDiscovery:
		err = m.discoverMetadata(ctx)
	case StepClientRegistration:
		err = m.registerClient(ctx)
	case StepAuthorizationRedirect:
		err = m.buildAuthorizationURL()
	case StepAuthorizationCode:
		err = m.checkAuthorizationCode()
	case StepTokenRequest:
		err = m.requestTokens(ctx)
	case StepComplete:
		return nil
	default:
		err = fmt.Errorf("unknown step %q", step)
	}

	if err != nil {
		m.state.LatestError = err.Error()
		m.state.LatestErrorStep = step
		m.logger.Error("OAuth step %s failed: %v", step, err)
		return fmt.Errorf("%s: %w", step, err)
	}

	m.state.LatestError = ""
	m.state.LatestErrorStep = ""
	m.state.OAuthStep = step.Next()
	m.logger.InfoVerbose("OAuth step %s complete, next: %s", step, m.state.OAuthStep)
	return nil
}

// Tokens returns the stored tokens for the server, or nil.
func (m *StateMachine) Tokens() (*Tokens, error) {
	return m.storage.GetTokens(m.cfg.ServerURL)
}

// RefreshTokens redeems the stored refresh token and stores the result.
func (m *StateMachine) RefreshTokens(ctx context.Context) (*Tokens, error) {
	var tokens *Tokens
	err := m.run(func() error {
		current, err := m.storage.GetTokens(m.cfg.ServerURL)
		if err != nil {
			return err
		}
		if current == nil || current.RefreshToken == "" {
			return fmt.Errorf("no refresh token stored for %s", m.cfg.ServerURL)
		}
		meta, err := m.serverMetadata(ctx)
		if err != nil {
			return err
		}
		client, err := m.loadClient()
		if err != nil {
			return err
		}
		scope, err := m.storage.GetScope(m.cfg.ServerURL)
		if err != nil {
			return err
		}
		resource, err := m.storedResource()
		if err != nil {
			return err
		}

		tokens, err = m.tokens.RefreshToken(ctx, TokenRefreshRequest{
			TokenEndpoint: meta.TokenEndpoint,
			RefreshToken:  current.RefreshToken,
			ClientID:      client.ClientID,
			ClientSecret:  client.ClientSecret,
			Resource:      resource,
			Scope:         scope,
			AuthMethods:   meta.TokenEndpointAuthMethodsSupported,
		})
		if err != nil {
			return err
		}
		if err := m.storage.SaveTokens(m.cfg.ServerURL, tokens); err != nil {
			return fmt.Errorf("save tokens: %w", err)
		}
		m.logger.Audit("tokens_refreshed", "server", m.cfg.ServerURL)
		if m.state.OAuthTokens != nil {
			m.state.OAuthTokens = tokens
		}
		return nil
	})
	return tokens, err
}

// FetchUserInfo calls the server's UserInfo endpoint with the stored token.
func (m *StateMachine) FetchUserInfo(ctx context.Context) (map[string]any, error) {
	tokens, err := m.storage.GetTokens(m.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, fmt.Errorf("not authenticated with %s", m.cfg.ServerURL)
	}
	meta, err := m.serverMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return m.tokens.FetchUserInfo(ctx, meta.UserinfoEndpoint, tokens.AccessToken)
}

// ValidateIDToken runs the claims-only ID token check on the stored tokens.
func (m *StateMachine) ValidateIDToken(ctx context.Context) (*IDTokenValidation, error) {
	tokens, err := m.storage.GetTokens(m.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if tokens == nil || tokens.IDToken == "" {
		return nil, fmt.Errorf("no ID token stored for %s", m.cfg.ServerURL)
	}
	want := IDTokenExpectations{}
	if meta, err := m.serverMetadata(ctx); err == nil {
		want.Issuer = meta.Issuer
	}
	if client, err := m.loadClient(); err == nil {
		want.ClientID = client.ClientID
	}
	return ValidateIDToken(tokens.IDToken, want)
}

// Clear drops everything stored for the server and resets the flow.
func (m *StateMachine) Clear() error {
	return m.run(func() error {
		if err := m.storage.Clear(m.cfg.ServerURL); err != nil {
			return err
		}
		m.state = newFlowState(AuthTypeNormal)
		m.challenge = nil
		m.logger.Audit("state_cleared", "server", m.cfg.ServerURL)
		return nil
	})
}

func (m *StateMachine) serverMetadata(ctx context.Context) (*AuthorizationServerMetadata, error) {
	if m.state.OAuthMetadata != nil {
		return m.state.OAuthMetadata, nil
	}
	meta, err := m.storage.GetServerMetadata(m.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return meta, nil
	}
	res, err := m.discoverer.Discover(ctx, m.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	return res.AuthServerMetadata, nil
}

// loadClient returns the flow's client or the stored one, preferring the
// pre-registered record when static credentials are configured.
func (m *StateMachine) loadClient() (*ClientInformation, error) {
	if m.state.OAuthClientInfo != nil {
		return m.state.OAuthClientInfo, nil
	}
	order := []bool{false, true}
	if m.cfg.ClientID != "" {
		order = []bool{true, false}
	}
	for _, pre := range order {
		info, err := m.storage.GetClientInformation(m.cfg.ServerURL, pre)
		if err != nil {
			return nil, fmt.Errorf("load client information: %w", err)
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no client registered for %s", m.cfg.ServerURL)
}

func (m *StateMachine) redirectURL() string {
	if m.state.AuthType == AuthTypeGuided {
		return m.cfg.GuidedRedirectURL
	}
	return m.cfg.RedirectURL
}
