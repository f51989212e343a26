package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
	"github.com/giantswarm/mcp-inspect/internal/storage"
	"github.com/giantswarm/mcp-inspect/internal/testserver"
)

const testRedirect = "http://127.0.0.1:6274" + CallbackPath

type webEnv struct {
	as  *httptest.Server
	srv *Server
}

func newWebEnv(t *testing.T, opts testserver.Options) *webEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	as := httptest.NewServer(testserver.New(opts))
	t.Cleanup(as.Close)

	store := storage.NewBrowserStore(storage.NewMemoryKeyValueStore(), nil)
	logger := logging.NewLoggerWithWriter(false, false, false, &strings.Builder{})
	m, err := oauth.NewStateMachine(oauth.Config{
		ServerURL:   as.URL + "/mcp",
		RedirectURL: testRedirect,
	}, store, oauth.WithHTTPClient(as.Client()), oauth.WithLogger(logger))
	require.NoError(t, err)

	return &webEnv{as: as, srv: NewServer(m, logger)}
}

func (e *webEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *webEnv) view(t *testing.T, w *httptest.ResponseRecorder) agent.FlowView {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v agent.FlowView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// authorize visits the authorization URL and returns the redirect target as
// a request URI on this server.
func (e *webEnv) authorize(t *testing.T, authURL string) string {
	t.Helper()
	client := e.as.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.RequestURI()
}

func TestQuickFlow(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})

	w := env.do(t, http.MethodPost, "/api/quick", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started struct {
		AuthorizationURL string `json:"authorizationUrl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.AuthorizationURL)

	target := env.authorize(t, started.AuthorizationURL)
	assert.True(t, strings.HasPrefix(target, CallbackPath+"?"))

	w = env.do(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Tokens were issued")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	v := env.view(t, env.do(t, http.MethodGet, "/api/state", ""))
	assert.True(t, v.Authenticated)
	require.NotNil(t, v.Tokens)
	assert.NotEqual(t, testserver.AccessToken, v.Tokens.AccessToken)

	v = env.view(t, env.do(t, http.MethodDelete, "/api/state", ""))
	assert.False(t, v.Authenticated)
}

func TestGuidedFlowWithCallback(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})

	v := env.view(t, env.do(t, http.MethodPost, "/api/guided/start", ""))
	assert.Equal(t, oauth.AuthTypeGuided, v.Flow.AuthType)

	v = env.view(t, env.do(t, http.MethodPost, "/api/guided/next", ""))
	assert.Equal(t, oauth.StepClientRegistration, v.Flow.OAuthStep)

	v = env.view(t, env.do(t, http.MethodPost, "/api/guided/run", ""))
	assert.Equal(t, oauth.StepAuthorizationCode, v.Flow.OAuthStep)

	target := env.authorize(t, v.Flow.AuthorizationURL)
	assert.True(t, strings.HasPrefix(target, GuidedCallbackPath+"?"))

	w := env.do(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stored in the guided flow")

	v = env.view(t, env.do(t, http.MethodGet, "/api/state", ""))
	assert.Equal(t, oauth.StepAuthorizationCode, v.Flow.OAuthStep)
	assert.False(t, v.Authenticated)

	v = env.view(t, env.do(t, http.MethodPost, "/api/guided/run", ""))
	assert.Equal(t, oauth.StepComplete, v.Flow.OAuthStep)
	assert.True(t, v.Authenticated)
}

func TestGuidedCode(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})
	env.view(t, env.do(t, http.MethodPost, "/api/guided/start", ""))
	env.view(t, env.do(t, http.MethodPost, "/api/guided/run", ""))

	w := env.do(t, http.MethodPost, "/api/guided/code", `{"autoAdvance": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid body")

	w = env.do(t, http.MethodPost, "/api/guided/code", `{"code": "   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"state"`)

	body := fmt.Sprintf(`{"code": %q, "autoAdvance": true}`, testserver.AuthorizationCode)
	v := env.view(t, env.do(t, http.MethodPost, "/api/guided/code", body))
	assert.Equal(t, oauth.StepComplete, v.Flow.OAuthStep)
	assert.True(t, v.Authenticated)
}

func TestCallbackRejected(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})
	w := env.do(t, http.MethodPost, "/api/quick", "")
	require.Equal(t, http.StatusOK, w.Code)
	state := env.srv.machine.State().State

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{
			name:   "denied",
			target: CallbackPath + "?error=access_denied&error_description=no+thanks&state=" + state,
			want:   "access_denied",
		},
		{
			name:   "foreign state",
			target: CallbackPath + "?code=abc&state=normal:" + strings.Repeat("0", 64),
			want:   "does not match",
		},
		{
			name:   "mode conflict",
			target: GuidedCallbackPath + "?code=abc&state=normal:" + strings.Repeat("0", 64),
			want:   "conflicts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "Authorization failed")
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestStepFailureCarriesState(t *testing.T) {
	env := newWebEnv(t, testserver.Options{DisableRegistration: true})
	env.view(t, env.do(t, http.MethodPost, "/api/guided/start", ""))

	w := env.do(t, http.MethodPost, "/api/guided/run", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Error string         `json:"error"`
		State agent.FlowView `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, oauth.StepClientRegistration, body.State.Flow.LatestErrorStep)
}

func TestIndex(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})
	w := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), env.as.URL+"/mcp")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: oauth.ErrStateMismatch, want: http.StatusBadRequest},
		{err: fmt.Errorf("wrapped: %w", oauth.ErrRedirectModeConflict), want: http.StatusBadRequest},
		{err: &oauth.AuthorizationDeniedError{Code: "access_denied"}, want: http.StatusBadRequest},
		{err: &oauth.ValidationError{Field: "code", Message: "empty"}, want: http.StatusBadRequest},
		{err: &oauth.TokenRequestError{StatusCode: 500}, want: http.StatusBadGateway},
		{err: errors.New("dial tcp: refused"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestServe(t *testing.T) {
	env := newWebEnv(t, testserver.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/state")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
