package agent

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-inspect/internal/config"
	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
	"github.com/giantswarm/mcp-inspect/internal/storage"
	"github.com/giantswarm/mcp-inspect/internal/testserver"
)

// authEnv is a dummy authorization server plus the sessions that talk to it.
type authEnv struct {
	as       *testserver.Server
	ts       *httptest.Server
	store    oauth.Storage
	sessions *Sessions
	logs     *bytes.Buffer
	logger   *logging.Logger
}

func newAuthEnv(t *testing.T, opts testserver.Options) *authEnv {
	t.Helper()
	as := testserver.New(opts)
	ts := httptest.NewServer(as)
	t.Cleanup(ts.Close)

	logs := &bytes.Buffer{}
	logger := logging.NewLoggerWithWriter(false, false, false, logs)
	store := storage.NewBrowserStore(storage.NewMemoryKeyValueStore(), nil)

	factory := NewSessionFactory(config.Default(), store, logger, oauth.WithHTTPClient(ts.Client()))
	return &authEnv{
		as:       as,
		ts:       ts,
		store:    store,
		sessions: NewSessions(factory),
		logs:     logs,
		logger:   logger,
	}
}

func (e *authEnv) serverURL() string { return e.ts.URL + "/mcp" }

func (e *authEnv) session(t *testing.T) *Session {
	t.Helper()
	sess, err := e.sessions.Get(e.serverURL())
	require.NoError(t, err)
	return sess
}

// authorize follows the authorization URL to the redirect the dummy server
// issues, without following it.
func (e *authEnv) authorize(t *testing.T, authURL string) *url.URL {
	t.Helper()
	client := e.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(authURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc
}
