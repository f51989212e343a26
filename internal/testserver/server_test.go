package testserver

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func noRedirect(ts *httptest.Server) *http.Client {
	c := ts.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func postToken(t *testing.T, ts *httptest.Server, form url.Values) *http.Response {
	t.Helper()
	resp, err := ts.Client().PostForm(ts.URL+PathToken, form)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	return resp
}

func TestASMetadata(t *testing.T) {
	tests := []struct {
		name             string
		opts             Options
		wantRegistration bool
	}{
		{name: "registration enabled", opts: Options{}, wantRegistration: true},
		{name: "registration disabled", opts: Options{DisableRegistration: true}, wantRegistration: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, tt.opts)
			resp, err := ts.Client().Get(ts.URL + PathASMetadata)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			meta := decode(t, resp)

			if meta["issuer"] != ts.URL {
				t.Errorf("issuer = %v, want %s", meta["issuer"], ts.URL)
			}
			if meta["token_endpoint"] != ts.URL+PathToken {
				t.Errorf("token_endpoint = %v", meta["token_endpoint"])
			}
			_, hasReg := meta["registration_endpoint"]
			if hasReg != tt.wantRegistration {
				t.Errorf("registration_endpoint present = %v, want %v", hasReg, tt.wantRegistration)
			}
			methods, _ := meta["code_challenge_methods_supported"].([]interface{})
			if len(methods) == 0 || methods[0] != "S256" {
				t.Errorf("code_challenge_methods_supported = %v", methods)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	resp, err := ts.Client().Post(ts.URL+PathRegister, "application/json",
		strings.NewReader(`{"redirect_uris":["http://127.0.0.1:9999/oauth/callback"]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["client_id"] != ClientID || body["client_secret"] != ClientSecret {
		t.Errorf("unexpected credentials: %v", body)
	}
	if got := len(s.Registrations()); got != 1 {
		t.Errorf("recorded %d registrations, want 1", got)
	}
}

func TestRegister_Disabled(t *testing.T) {
	_, ts := newTestServer(t, Options{DisableRegistration: true})
	resp, err := ts.Client().Post(ts.URL+PathRegister, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAuthorize(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	client := noRedirect(ts)

	t.Run("redirects with code and state", func(t *testing.T) {
		q := url.Values{
			"client_id":     {ClientID},
			"redirect_uri":  {"http://127.0.0.1:9999/oauth/callback"},
			"response_type": {"code"},
			"state":         {"normal:abc"},
		}
		resp, err := client.Get(ts.URL + PathAuthorize + "?" + q.Encode())
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("status = %d, want 302", resp.StatusCode)
		}
		loc, err := url.Parse(resp.Header.Get("Location"))
		if err != nil {
			t.Fatalf("bad Location: %v", err)
		}
		if loc.Query().Get("code") != AuthorizationCode {
			t.Errorf("code = %q", loc.Query().Get("code"))
		}
		if loc.Query().Get("state") != "normal:abc" {
			t.Errorf("state = %q", loc.Query().Get("state"))
		}
	})

	t.Run("missing redirect", func(t *testing.T) {
		resp, err := client.Get(ts.URL + PathAuthorize + "?client_id=" + ClientID)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestToken(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		basic      bool
		wantStatus int
		wantError  string
	}{
		{
			name: "authorization code with form credentials",
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {AuthorizationCode},
				"client_id": {ClientID}, "client_secret": {ClientSecret},
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "authorization code with basic credentials",
			form:       url.Values{"grant_type": {"authorization_code"}, "code": {AuthorizationCode}},
			basic:      true,
			wantStatus: http.StatusOK,
		},
		{
			name: "wrong secret",
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {AuthorizationCode},
				"client_id": {ClientID}, "client_secret": {"nope"},
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_client",
		},
		{
			name: "wrong code",
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {"other"},
				"client_id": {ClientID}, "client_secret": {ClientSecret},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_grant",
		},
		{
			name: "unsupported grant",
			form: url.Values{
				"grant_type": {"client_credentials"},
				"client_id":  {ClientID}, "client_secret": {ClientSecret},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported_grant_type",
		},
		{
			name: "refresh",
			form: url.Values{
				"grant_type": {"refresh_token"}, "refresh_token": {RefreshToken},
				"client_id": {ClientID}, "client_secret": {ClientSecret},
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, Options{})

			req, _ := http.NewRequest(http.MethodPost, ts.URL+PathToken, strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.basic {
				req.SetBasicAuth(ClientID, ClientSecret)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body := decode(t, resp)
			if tt.wantError != "" {
				if body["error"] != tt.wantError {
					t.Errorf("error = %v, want %s", body["error"], tt.wantError)
				}
				return
			}
			if body["access_token"] != AccessToken || body["refresh_token"] != RefreshToken {
				t.Errorf("unexpected tokens: %v", body)
			}
			if body["expires_in"] != float64(3600) || body["scope"] != "read write" {
				t.Errorf("unexpected lifetime or scope: %v", body)
			}
		})
	}
}

func TestToken_PKCE(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	verifier := strings.Repeat("v", 43)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q := url.Values{
		"client_id":             {ClientID},
		"redirect_uri":          {"http://127.0.0.1:9999/oauth/callback"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	resp, err := noRedirect(ts).Get(ts.URL + PathAuthorize + "?" + q.Encode())
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	_ = resp.Body.Close()

	form := url.Values{
		"grant_type": {"authorization_code"}, "code": {AuthorizationCode},
		"client_id": {ClientID}, "client_secret": {ClientSecret},
		"code_verifier": {"wrong"},
	}
	resp = postToken(t, ts, form)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong verifier: status = %d, want 400", resp.StatusCode)
	}

	form.Set("code_verifier", verifier)
	resp = postToken(t, ts, form)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("right verifier: status = %d, want 200", resp.StatusCode)
	}
}

func TestToken_OmitRefreshOnRefresh(t *testing.T) {
	_, ts := newTestServer(t, Options{OmitRefreshOnRefresh: true})
	resp := postToken(t, ts, url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {RefreshToken},
		"client_id": {ClientID}, "client_secret": {ClientSecret},
	})
	body := decode(t, resp)
	if _, ok := body["refresh_token"]; ok {
		t.Errorf("refresh_token should be omitted: %v", body)
	}
}

func TestMCPChallenge(t *testing.T) {
	s, ts := newTestServer(t, Options{ResourceScopes: []string{"mcp:read"}})

	resp, err := ts.Client().Post(ts.URL+PathMCP, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	want := `Bearer resource_metadata="` + ts.URL + PathResourceMetadata + PathMCP + `", scope="mcp:read"`
	if got := resp.Header.Get("WWW-Authenticate"); got != want {
		t.Errorf("WWW-Authenticate = %q, want %q", got, want)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+PathMCP, strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+AccessToken)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d, want 200", resp.StatusCode)
	}

	if got := s.Count(PathMCP); got != 2 {
		t.Errorf("Count(%s) = %d, want 2", PathMCP, got)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+PathToken, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
	if s.Count(PathToken) != 0 {
		t.Errorf("preflight requests are not counted")
	}
}
