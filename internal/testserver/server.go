// Package testserver is a permissive OAuth 2.1 authorization server that
// issues fixed credentials. It backs the test-oauth-server command and the
// end-to-end tests; it must never guard anything real.
package testserver

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// Fixed credentials handed out by every instance.
const (
	ClientID          = "dummy_client_12345"
	ClientSecret      = "dummy_secret_abcdef123456"
	AuthorizationCode = "dummy_auth_code_12345"
	AccessToken       = "dummy_access_token_12345"
	RefreshToken      = "dummy_refresh_token_12345"

	tokenScope    = "read write"
	tokenLifetime = 3600
)

// Endpoint paths, also the keys for Count.
const (
	PathASMetadata       = "/.well-known/oauth-authorization-server"
	PathResourceMetadata = "/.well-known/oauth-protected-resource"
	PathRegister         = "/register"
	PathAuthorize        = "/authorize"
	PathToken            = "/token"
	PathMCP              = "/mcp"
)

// Options tunes what the server advertises.
type Options struct {
	// DisableRegistration drops registration_endpoint from the metadata and
	// answers /register with 404.
	DisableRegistration bool

	// ResourceScopes are published as the protected resource's
	// scopes_supported.
	ResourceScopes []string

	// AuthMethods is token_endpoint_auth_methods_supported. Defaults to
	// client_secret_basic and client_secret_post.
	AuthMethods []string

	// OmitRefreshOnRefresh makes refresh responses carry no refresh_token,
	// like servers that do not rotate.
	OmitRefreshOnRefresh bool

	Logger *logging.Logger
}

// Server implements http.Handler.
type Server struct {
	opts Options
	mux  *http.ServeMux

	mu            sync.Mutex
	counts        map[string]int
	challenge     string
	lastToken     url.Values
	registrations []json.RawMessage
}

// New builds a server. The issuer is derived from each request's Host, so the
// same instance works behind httptest and on a real listener.
func New(opts Options) *Server {
	if len(opts.AuthMethods) == 0 {
		opts.AuthMethods = []string{"client_secret_basic", "client_secret_post"}
	}
	s := &Server{
		opts:   opts,
		mux:    http.NewServeMux(),
		counts: make(map[string]int),
	}

	s.mux.HandleFunc(PathASMetadata, s.handleASMetadata)
	s.mux.HandleFunc(PathResourceMetadata, s.handleResourceMetadata)
	s.mux.HandleFunc(PathResourceMetadata+PathMCP, s.handleResourceMetadata)
	s.mux.HandleFunc(PathRegister, s.handleRegister)
	s.mux.HandleFunc(PathAuthorize, s.handleAuthorize)
	s.mux.HandleFunc(PathToken, s.handleToken)
	s.mux.HandleFunc(PathMCP, s.handleMCP)
	return s
}

// ServeHTTP adds CORS headers, answers preflight requests and counts hits.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Accept,Mcp-Session-Id,Mcp-Protocol-Version")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Expose-Headers", "WWW-Authenticate,Mcp-Session-Id")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mu.Lock()
	s.counts[r.URL.Path]++
	s.mu.Unlock()

	s.mux.ServeHTTP(w, r)
}

// Count returns how many non-preflight requests hit path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// LastTokenRequest returns the form of the most recent token request.
func (s *Server) LastTokenRequest() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := url.Values{}
	for k, v := range s.lastToken {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Registrations returns the raw bodies of every registration request.
func (s *Server) Registrations() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.registrations...)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, status, body)
}

func (s *Server) handleASMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "")
		return
	}
	base := baseURL(r)
	meta := map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + PathAuthorize,
		"token_endpoint":                        base + PathToken,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": s.opts.AuthMethods,
		"scopes_supported":                      []string{"read", "write", "admin"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
	}
	if !s.opts.DisableRegistration {
		meta["registration_endpoint"] = base + PathRegister
	}
	s.opts.Logger.InfoVerbose("[WELL-KNOWN] served metadata for issuer %s", base)
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "")
		return
	}
	base := baseURL(r)
	meta := map[string]interface{}{
		"resource":                 base + PathMCP,
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
	}
	if len(s.opts.ResourceScopes) > 0 {
		meta["scopes_supported"] = s.opts.ResourceScopes
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.opts.DisableRegistration {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "")
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}
	var req struct {
		RedirectURIs []string `json:"redirect_uris"`
	}
	_ = json.Unmarshal(body, &req)

	s.mu.Lock()
	s.registrations = append(s.registrations, body)
	s.mu.Unlock()

	s.opts.Logger.Info("[REGISTER] registered %s", ClientID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"client_id":                  ClientID,
		"client_secret":              ClientSecret,
		"client_id_issued_at":        time.Now().Unix(),
		"client_secret_expires_at":   0,
		"redirect_uris":              req.RedirectURIs,
		"token_endpoint_auth_method": s.opts.AuthMethods[0],
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"client_name":                "Dummy OAuth Client",
		"scope":                      "read write admin",
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	clientID := r.Form.Get("client_id")
	redirectURI := r.Form.Get("redirect_uri")
	if clientID == "" || redirectURI == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing required parameters")
		return
	}
	if rt := r.Form.Get("response_type"); rt != "" && rt != "code" {
		writeError(w, http.StatusBadRequest, "unsupported_response_type", "")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid redirect_uri")
		return
	}

	s.mu.Lock()
	s.challenge = ""
	if r.Form.Get("code_challenge_method") == "S256" {
		s.challenge = r.Form.Get("code_challenge")
	}
	s.mu.Unlock()

	q := target.Query()
	q.Set("code", AuthorizationCode)
	if state := r.Form.Get("state"); state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	s.opts.Logger.Info("[AUTHORIZE] granted %s, redirecting to %s", clientID, target.Redacted())
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// clientCredentials reads Basic auth first and falls back to the form.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if uid, err := url.QueryUnescape(id); err == nil {
			id = uid
		}
		if usecret, err := url.QueryUnescape(secret); err == nil {
			secret = usecret
		}
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "")
		return
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		writeError(w, http.StatusBadRequest, "invalid_request", "Unsupported content type")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.mu.Lock()
	s.lastToken = r.PostForm
	challenge := s.challenge
	s.mu.Unlock()

	id, secret := clientCredentials(r)
	if id != ClientID || secret != ClientSecret {
		s.opts.Logger.Warning("[TOKEN] invalid client credentials for %q", id)
		writeError(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	}

	switch grant := r.PostForm.Get("grant_type"); grant {
	case "authorization_code":
		if r.PostForm.Get("code") != AuthorizationCode {
			writeError(w, http.StatusBadRequest, "invalid_grant", "unknown authorization code")
			return
		}
		if challenge != "" && !verifierMatches(r.PostForm.Get("code_verifier"), challenge) {
			writeError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
		s.mu.Lock()
		s.challenge = ""
		s.mu.Unlock()
		s.writeTokens(w, true)
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != RefreshToken {
			writeError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		s.writeTokens(w, !s.opts.OmitRefreshOnRefresh)
	default:
		s.opts.Logger.Warning("[TOKEN] unsupported grant type %q", grant)
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func verifierMatches(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func (s *Server) writeTokens(w http.ResponseWriter, withRefresh bool) {
	resp := map[string]interface{}{
		"access_token": AccessToken,
		"token_type":   "Bearer",
		"expires_in":   tokenLifetime,
		"scope":        tokenScope,
	}
	if withRefresh {
		resp["refresh_token"] = RefreshToken
	}
	s.opts.Logger.Info("[TOKEN] issued tokens for %s", ClientID)
	writeJSON(w, http.StatusOK, resp)
}

// handleMCP stands in for a protected MCP endpoint: unauthenticated requests
// get a Bearer challenge pointing at the resource metadata.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		challenge := `Bearer resource_metadata="` + baseURL(r) + PathResourceMetadata + PathMCP + `"`
		if len(s.opts.ResourceScopes) > 0 {
			challenge += `, scope="` + strings.Join(s.opts.ResourceScopes, " ") + `"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(w, http.StatusUnauthorized, "invalid_token", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      0,
		"result":  map[string]interface{}{},
	})
}
