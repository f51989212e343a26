package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-inspect/internal/testserver"
)

const testRedirect = "http://127.0.0.1:9/oauth/callback"

// memStorage is a map-backed Storage.
type memStorage struct {
	mu       sync.Mutex
	clients  map[string]*ClientInformation
	pre      map[string]*ClientInformation
	tokens   map[string]*Tokens
	verifier map[string]string
	scope    map[string]string
	resource map[string]string
	meta     map[string]*AuthorizationServerMetadata

	scopeErr error
}

func newMemStorage() *memStorage {
	return &memStorage{
		clients:  map[string]*ClientInformation{},
		pre:      map[string]*ClientInformation{},
		tokens:   map[string]*Tokens{},
		verifier: map[string]string{},
		scope:    map[string]string{},
		resource: map[string]string{},
		meta:     map[string]*AuthorizationServerMetadata{},
	}
}

func (s *memStorage) slot(pre bool) map[string]*ClientInformation {
	if pre {
		return s.pre
	}
	return s.clients
}

func (s *memStorage) GetClientInformation(u string, pre bool) (*ClientInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot(pre)[u], nil
}

func (s *memStorage) SaveClientInformation(u string, info *ClientInformation, pre bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot(pre)[u] = info
	return nil
}

func (s *memStorage) ClearClientInformation(u string, pre bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slot(pre), u)
	return nil
}

func (s *memStorage) GetTokens(u string) (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[u], nil
}

func (s *memStorage) SaveTokens(u string, t *Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[u] = t
	return nil
}

func (s *memStorage) ClearTokens(u string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, u)
	return nil
}

func (s *memStorage) GetCodeVerifier(u string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifier[u], nil
}

func (s *memStorage) SaveCodeVerifier(u, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier[u] = v
	return nil
}

func (s *memStorage) ClearCodeVerifier(u string) error { return s.SaveCodeVerifier(u, "") }

func (s *memStorage) GetScope(u string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopeErr != nil {
		return "", s.scopeErr
	}
	return s.scope[u], nil
}

func (s *memStorage) SaveScope(u, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope[u] = v
	return nil
}

func (s *memStorage) ClearScope(u string) error { return s.SaveScope(u, "") }

func (s *memStorage) GetResource(u string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource[u], nil
}

func (s *memStorage) SaveResource(u, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resource[u] = v
	return nil
}

func (s *memStorage) ClearResource(u string) error { return s.SaveResource(u, "") }

func (s *memStorage) GetServerMetadata(u string) (*AuthorizationServerMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[u], nil
}

func (s *memStorage) SaveServerMetadata(u string, m *AuthorizationServerMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[u] = m
	return nil
}

func (s *memStorage) ClearServerMetadata(u string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, u)
	return nil
}

func (s *memStorage) Clear(u string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range []map[string]*ClientInformation{s.clients, s.pre} {
		delete(m, u)
	}
	delete(s.tokens, u)
	delete(s.verifier, u)
	delete(s.scope, u)
	delete(s.resource, u)
	delete(s.meta, u)
	return nil
}

type flowEnv struct {
	as      *testserver.Server
	ts      *httptest.Server
	storage *memStorage
	server  string
}

func newFlowEnv(t *testing.T, opts testserver.Options) *flowEnv {
	t.Helper()
	as := testserver.New(opts)
	ts := httptest.NewServer(as)
	t.Cleanup(ts.Close)
	return &flowEnv{as: as, ts: ts, storage: newMemStorage(), server: ts.URL + "/mcp"}
}

func (e *flowEnv) machine(t *testing.T, cfg Config, opts ...Option) *StateMachine {
	t.Helper()
	cfg.ServerURL = e.server
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = testRedirect
	}
	opts = append([]Option{WithHTTPClient(e.ts.Client())}, opts...)
	m, err := NewStateMachine(cfg, e.storage, opts...)
	require.NoError(t, err)
	return m
}

// authorize follows the authorization URL and returns the redirect the
// browser would have been sent to.
func (e *flowEnv) authorize(t *testing.T, authURL string) RedirectRequest {
	t.Helper()
	client := e.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return RedirectRequest{Path: loc.Path, Params: CallbackParamsFromValues(loc.Query())}
}

var staticClient = Config{ClientID: testserver.ClientID, ClientSecret: testserver.ClientSecret}

func TestNewStateMachine_Validation(t *testing.T) {
	_, err := NewStateMachine(Config{ServerURL: "https://x", RedirectURL: testRedirect}, nil)
	assert.Error(t, err)
	_, err = NewStateMachine(Config{ServerURL: "not a url", RedirectURL: testRedirect}, newMemStorage())
	assert.Error(t, err)
	_, err = NewStateMachine(Config{ServerURL: "https://x"}, newMemStorage())
	assert.Error(t, err)

	m, err := NewStateMachine(Config{ServerURL: "https://x", RedirectURL: testRedirect + "/"}, newMemStorage())
	require.NoError(t, err)
	assert.Equal(t, testRedirect+"/guided", m.cfg.GuidedRedirectURL)
	assert.Equal(t, StepMetadataDiscovery, m.State().OAuthStep)
	assert.Equal(t, AuthTypeNormal, m.State().AuthType)
}

func TestQuickFlow_StaticClientWithoutRegistration(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	m := env.machine(t, staticClient)
	ctx := context.Background()

	authURL, err := m.Authenticate(ctx)
	require.NoError(t, err)
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Equal(t, 0, env.as.Count(testserver.PathRegister), "no registration request with static credentials")

	st := m.State()
	assert.Equal(t, StepAuthorizationCode, st.OAuthStep)
	assert.False(t, st.IsInitiatingAuth)
	assert.True(t, strings.HasPrefix(st.State, "normal:"))
	assert.Equal(t, env.ts.URL+"/mcp", st.ResourceURL)

	pre, _ := env.storage.GetClientInformation(env.server, true)
	require.NotNil(t, pre, "static credentials go to the preregistered slot")
	dyn, _ := env.storage.GetClientInformation(env.server, false)
	assert.Nil(t, dyn)

	verifier, _ := env.storage.GetCodeVerifier(env.server)
	assert.NotEmpty(t, verifier)

	res, err := m.HandleRedirect(ctx, env.authorize(t, authURL))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, AuthTypeNormal, res.Mode)
	assert.Equal(t, testserver.AccessToken, res.Tokens.AccessToken)

	stored, _ := env.storage.GetTokens(env.server)
	assert.Equal(t, res.Tokens, stored)
	verifier, _ = env.storage.GetCodeVerifier(env.server)
	assert.Empty(t, verifier, "verifier is single use")

	form := env.as.LastTokenRequest()
	assert.Equal(t, testRedirect, form.Get("redirect_uri"))
	assert.Equal(t, env.ts.URL+"/mcp", form.Get("resource"))
	assert.Equal(t, StepComplete, m.State().OAuthStep)
}

func TestQuickFlow_DynamicRegistrationIsReused(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	ctx := context.Background()

	m := env.machine(t, Config{})
	_, err := m.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.as.Count(testserver.PathRegister))

	dyn, _ := env.storage.GetClientInformation(env.server, false)
	require.NotNil(t, dyn)
	assert.Equal(t, testserver.ClientID, dyn.ClientID)
	assert.ElementsMatch(t, []string{testRedirect, testRedirect + "/guided"}, dyn.RedirectURIs)

	_, err = env.machine(t, Config{}).Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.as.Count(testserver.PathRegister), "stored client is reused")

	_, err = env.machine(t, Config{RedirectURL: "http://127.0.0.1:10/oauth/callback"}).Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.as.Count(testserver.PathRegister), "a new redirect port needs a new client")
}

func TestQuickFlow_NoRegistrationEndpoint(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	m := env.machine(t, Config{})

	_, err := m.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNoRegistrationEndpoint)

	st := m.State()
	assert.Equal(t, StepClientRegistration, st.OAuthStep, "failed step is not advanced")
	assert.Equal(t, StepClientRegistration, st.LatestErrorStep)
	assert.Contains(t, st.LatestError, "no registration endpoint")
	assert.NotNil(t, st.OAuthMetadata, "discovery results survive a later failure")
}

func TestQuickFlow_ScopeSelection(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{ResourceScopes: []string{"mcp:read", "mcp:write"}, DisableRegistration: true})
	ctx := context.Background()

	authURL, err := env.machine(t, staticClient).Authenticate(ctx)
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	assert.Equal(t, "mcp:read mcp:write", u.Query().Get("scope"), "challenge and resource scopes win")

	authURL, err = env.machine(t, Config{ClientID: testserver.ClientID, ClientSecret: testserver.ClientSecret, Scope: "admin"}).Authenticate(ctx)
	require.NoError(t, err)
	u, _ = url.Parse(authURL)
	assert.Equal(t, "admin", u.Query().Get("scope"))

	scope, _ := env.storage.GetScope(env.server)
	assert.Equal(t, "admin", scope)
}

func TestCompleteOAuthFlow_ResumesFromStorage(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	ctx := context.Background()

	authURL, err := env.machine(t, staticClient).Authenticate(ctx)
	require.NoError(t, err)
	redirect := env.authorize(t, authURL)

	fresh := env.machine(t, staticClient)
	tokens, err := fresh.CompleteOAuthFlow(ctx, redirect.Params.Code)
	require.NoError(t, err)
	assert.Equal(t, testserver.AccessToken, tokens.AccessToken)

	_, err = fresh.CompleteOAuthFlow(ctx, redirect.Params.Code)
	assert.Error(t, err, "a completed flow does not redeem another code")
}

func TestCompleteOAuthFlow_ResumeKeepsResource(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	ctx := context.Background()

	authURL, err := env.machine(t, staticClient).Authenticate(ctx)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	resource := u.Query().Get("resource")
	require.Equal(t, env.server, resource)

	fresh := env.machine(t, staticClient)
	_, err = fresh.CompleteOAuthFlow(ctx, env.authorize(t, authURL).Params.Code)
	require.NoError(t, err)
	assert.Equal(t, resource, env.as.LastTokenRequest().Get("resource"))
	assert.Equal(t, resource, fresh.State().ResourceURL)

	_, err = env.machine(t, staticClient).RefreshTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, resource, env.as.LastTokenRequest().Get("resource"), "refresh from another machine")
}

func TestCompleteOAuthFlow_ResumeScopeReadError(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	ctx := context.Background()

	authURL, err := env.machine(t, staticClient).Authenticate(ctx)
	require.NoError(t, err)
	code := env.authorize(t, authURL).Params.Code

	env.storage.scopeErr = errors.New("disk gone")
	_, err = env.machine(t, staticClient).CompleteOAuthFlow(ctx, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load scope")
	assert.Zero(t, env.as.Count(testserver.PathToken), "no token request after a failed resume")
}

func TestCompleteOAuthFlow_NothingPending(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	_, err := env.machine(t, staticClient).CompleteOAuthFlow(context.Background(), "code")
	assert.Error(t, err)
}

func TestCompleteOAuthFlow_BadCode(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	m := env.machine(t, staticClient)
	ctx := context.Background()

	_, err := m.Authenticate(ctx)
	require.NoError(t, err)

	_, err = m.CompleteOAuthFlow(ctx, "wrong")
	var tokErr *TokenRequestError
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
	assert.Equal(t, StepTokenRequest, m.State().LatestErrorStep)
	assert.Equal(t, StepTokenRequest, m.State().OAuthStep)
}

func TestGuidedFlow_StepByStep(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	var snapshots []AuthGuidedState
	m := env.machine(t, Config{}, WithOnChange(func(s AuthGuidedState) { snapshots = append(snapshots, s) }))
	ctx := context.Background()

	start := m.StartGuided()
	assert.Equal(t, AuthTypeGuided, start.AuthType)
	assert.Equal(t, StepMetadataDiscovery, start.OAuthStep)
	assert.NotEmpty(t, start.AuthID)

	require.NoError(t, m.ProceedToNextStep(ctx))
	st := m.State()
	assert.Equal(t, StepClientRegistration, st.OAuthStep)
	assert.NotNil(t, st.OAuthMetadata)
	assert.NotNil(t, st.ResourceMetadata)
	assert.Equal(t, env.ts.URL, st.AuthServerURL)
	assert.Nil(t, st.OAuthClientInfo, "later fields stay empty")

	require.NoError(t, m.ProceedToNextStep(ctx))
	st = m.State()
	assert.Equal(t, StepAuthorizationRedirect, st.OAuthStep)
	require.NotNil(t, st.OAuthClientInfo)

	require.NoError(t, m.ProceedToNextStep(ctx))
	st = m.State()
	assert.Equal(t, StepAuthorizationCode, st.OAuthStep)
	assert.True(t, strings.HasPrefix(st.State, "guided:"))
	assert.Contains(t, st.AuthorizationURL, url.QueryEscape(testRedirect+"/guided"))

	err := m.ProceedToNextStep(ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	st = m.State()
	assert.Equal(t, StepAuthorizationCode, st.OAuthStep)
	assert.Equal(t, "You need to provide an authorization code", st.ValidationError)
	assert.Equal(t, StepAuthorizationCode, st.LatestErrorStep)
	assert.NotNil(t, st.OAuthClientInfo, "earlier fields are kept")

	redirect := env.authorize(t, st.AuthorizationURL)
	assert.Equal(t, "/oauth/callback/guided", redirect.Path)

	require.NoError(t, m.SetGuidedAuthorizationCode(ctx, redirect.Params.Code, false))
	st = m.State()
	assert.Empty(t, st.ValidationError)
	assert.Equal(t, StepAuthorizationCode, st.OAuthStep, "setting a code does not advance by itself")

	require.NoError(t, m.ProceedToNextStep(ctx))
	assert.Equal(t, StepTokenRequest, m.State().OAuthStep)
	require.NoError(t, m.ProceedToNextStep(ctx))
	st = m.State()
	assert.Equal(t, StepComplete, st.OAuthStep)
	require.NotNil(t, st.OAuthTokens)
	assert.Empty(t, st.LatestError)

	require.NoError(t, m.ProceedToNextStep(ctx), "complete is terminal")
	assert.Equal(t, StepComplete, m.State().OAuthStep)

	assert.GreaterOrEqual(t, len(snapshots), 8)
	assert.Equal(t, StepComplete, snapshots[len(snapshots)-1].OAuthStep)
}

func TestGuidedFlow_EmptyCodeRejected(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	m := env.machine(t, Config{})
	m.StartGuided()

	err := m.SetGuidedAuthorizationCode(context.Background(), "   ", false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "You need to provide an authorization code", m.State().ValidationError)

	err = m.SetGuidedAuthorizationCode(context.Background(), "code", false)
	assert.Error(t, err, "codes are only accepted once the flow waits for one")
}

func TestRunGuidedToCompletion(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	m := env.machine(t, Config{})
	ctx := context.Background()
	m.StartGuided()

	require.NoError(t, m.RunGuidedToCompletion(ctx))
	assert.Equal(t, StepAuthorizationCode, m.State().OAuthStep, "stops where a code is needed")

	redirect := env.authorize(t, m.State().AuthorizationURL)
	require.NoError(t, m.SetGuidedAuthorizationCode(ctx, redirect.Params.Code, true))
	assert.Equal(t, StepComplete, m.State().OAuthStep)
}

func TestHandleRedirect_Guided(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	m := env.machine(t, Config{})
	ctx := context.Background()
	m.StartGuided()
	require.NoError(t, m.RunGuidedToCompletion(ctx))

	res, err := m.HandleRedirect(ctx, env.authorize(t, m.State().AuthorizationURL))
	require.NoError(t, err)
	assert.Equal(t, AuthTypeGuided, res.Mode)
	assert.False(t, res.Completed)

	st := m.State()
	assert.Equal(t, testserver.AuthorizationCode, st.AuthorizationCode)
	assert.Equal(t, StepAuthorizationCode, st.OAuthStep)
}

func TestHandleRedirect_Rejections(t *testing.T) {
	hex64 := strings.Repeat("0f", 32)

	tests := []struct {
		name    string
		req     func(pending string) RedirectRequest
		wantErr error
	}{
		{
			name: "mode conflict",
			req: func(string) RedirectRequest {
				return RedirectRequest{
					Path:   "/oauth/callback",
					Params: CallbackParams{Successful: true, Code: "c", State: "guided:" + hex64},
				}
			},
			wantErr: ErrRedirectModeConflict,
		},
		{
			name: "state mismatch",
			req: func(string) RedirectRequest {
				return RedirectRequest{
					Path:   "/oauth/callback",
					Params: CallbackParams{Successful: true, Code: "c", State: "normal:" + hex64},
				}
			},
			wantErr: ErrStateMismatch,
		},
		{
			name: "malformed state",
			req: func(string) RedirectRequest {
				return RedirectRequest{Path: "/oauth/callback", Params: CallbackParams{Successful: true, Code: "c", State: "junk"}}
			},
			wantErr: ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
			m := env.machine(t, staticClient)
			_, err := m.Authenticate(context.Background())
			require.NoError(t, err)

			_, err = m.HandleRedirect(context.Background(), tt.req(m.State().State))
			assert.ErrorIs(t, err, tt.wantErr)

			st := m.State()
			assert.Equal(t, StepAuthorizationCode, st.OAuthStep)
			assert.NotEmpty(t, st.LatestError)
			assert.Equal(t, 0, env.as.Count(testserver.PathToken))
		})
	}
}

func TestHandleRedirect_AuthorizationDenied(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	m := env.machine(t, staticClient)
	_, err := m.Authenticate(context.Background())
	require.NoError(t, err)

	values := url.Values{"error": {"access_denied"}, "error_description": {"User said no"}, "state": {m.State().State}}
	_, err = m.HandleRedirect(context.Background(), RedirectRequest{
		Path:   "/oauth/callback",
		Params: CallbackParamsFromValues(values),
	})

	var denied *AuthorizationDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "access_denied", denied.Code)
	assert.Contains(t, m.State().LatestError, "User said no")
}

func TestResolveRedirectMode(t *testing.T) {
	hex64 := strings.Repeat("a1", 32)
	tests := []struct {
		path, state string
		want        AuthType
		wantErr     error
	}{
		{path: "/oauth/callback", state: "normal:" + hex64, want: AuthTypeNormal},
		{path: "/oauth/callback/guided", state: "guided:" + hex64, want: AuthTypeGuided},
		{path: "/oauth/callback/guided/", state: "", want: AuthTypeGuided},
		{path: "", state: "guided:" + hex64, want: AuthTypeGuided},
		{path: "", state: hex64, want: AuthTypeNormal},
		{path: "", state: "", want: AuthTypeNormal},
		{path: "/oauth/callback/guided", state: "normal:" + hex64, wantErr: ErrRedirectModeConflict},
	}
	for _, tt := range tests {
		got, err := ResolveRedirectMode(tt.path, tt.state)
		if tt.wantErr != nil {
			assert.True(t, errors.Is(err, tt.wantErr), "%s %s", tt.path, tt.state)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.path, tt.state)
	}
}

func TestDiscoveryFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m, err := NewStateMachine(Config{ServerURL: srv.URL + "/mcp", RedirectURL: testRedirect}, newMemStorage(),
		WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	m.StartGuided()
	err = m.ProceedToNextStep(context.Background())
	require.Error(t, err)

	st := m.State()
	assert.Equal(t, StepMetadataDiscovery, st.OAuthStep)
	assert.Equal(t, StepMetadataDiscovery, st.LatestErrorStep)
	assert.NotEmpty(t, st.ResourceMetadataError)
	assert.Nil(t, st.OAuthMetadata)
}

func TestRefreshTokens(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true, OmitRefreshOnRefresh: true})
	m := env.machine(t, staticClient)
	ctx := context.Background()

	_, err := m.RefreshTokens(ctx)
	assert.Error(t, err, "nothing to refresh yet")

	authURL, err := m.Authenticate(ctx)
	require.NoError(t, err)
	_, err = m.HandleRedirect(ctx, env.authorize(t, authURL))
	require.NoError(t, err)

	tokens, err := m.RefreshTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, testserver.RefreshToken, tokens.RefreshToken, "kept when the server does not rotate")
	assert.Equal(t, "refresh_token", env.as.LastTokenRequest().Get("grant_type"))
}

func TestClear(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{DisableRegistration: true})
	m := env.machine(t, staticClient)
	ctx := context.Background()

	_, err := m.Authenticate(ctx)
	require.NoError(t, err)
	before := m.State().AuthID

	require.NoError(t, m.Clear())
	st := m.State()
	assert.Equal(t, StepMetadataDiscovery, st.OAuthStep)
	assert.NotEqual(t, before, st.AuthID)

	meta, _ := env.storage.GetServerMetadata(env.server)
	assert.Nil(t, meta)
	verifier, _ := env.storage.GetCodeVerifier(env.server)
	assert.Empty(t, verifier)
}

func TestStateMachine_IDTokenWithoutToken(t *testing.T) {
	env := newFlowEnv(t, testserver.Options{})
	m := env.machine(t, staticClient)

	_, err := m.ValidateIDToken(context.Background())
	assert.Error(t, err)
	_, err = m.FetchUserInfo(context.Background())
	assert.Error(t, err)
}
