package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// TokenClient talks to the token endpoint.
type TokenClient struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTokenClient creates a TokenClient. A nil client selects NewHTTPClient.
func NewTokenClient(httpClient *http.Client, logger *logging.Logger) *TokenClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &TokenClient{httpClient: httpClient, logger: logger}
}

// TokenExchangeRequest redeems an authorization code.
type TokenExchangeRequest struct {
	TokenEndpoint string
	Code          string
	RedirectURI   string
	ClientID      string
	ClientSecret  string
	CodeVerifier  string
	Resource      string
	// AuthMethods is the server's token_endpoint_auth_methods_supported.
	AuthMethods []string
}

// TokenRefreshRequest redeems a refresh token.
type TokenRefreshRequest struct {
	TokenEndpoint string
	RefreshToken  string
	ClientID      string
	ClientSecret  string
	Resource      string
	Scope         string
	AuthMethods   []string
}

// ExchangeToken performs the authorization_code grant.
func (c *TokenClient) ExchangeToken(ctx context.Context, req TokenExchangeRequest) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeAuthorizationCode)
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("code_verifier", req.CodeVerifier)
	if req.Resource != "" {
		form.Set("resource", req.Resource)
	}
	return c.do(ctx, req.TokenEndpoint, form, req.ClientID, req.ClientSecret, req.AuthMethods)
}

// RefreshToken performs the refresh_token grant. Servers that do not rotate
// refresh tokens omit one from the response; the old one is kept.
func (c *TokenClient) RefreshToken(ctx context.Context, req TokenRefreshRequest) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeRefreshToken)
	form.Set("refresh_token", req.RefreshToken)
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}
	if req.Resource != "" {
		form.Set("resource", req.Resource)
	}
	tokens, err := c.do(ctx, req.TokenEndpoint, form, req.ClientID, req.ClientSecret, req.AuthMethods)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = req.RefreshToken
	}
	return tokens, nil
}

// useBasicAuth selects client_secret_basic only when it is the single method
// the server supports. Everything else gets client_secret_post.
func useBasicAuth(secret string, methods []string) bool {
	return secret != "" && len(methods) == 1 && methods[0] == authMethodBasic
}

func (c *TokenClient) do(ctx context.Context, endpoint string, form url.Values, clientID, clientSecret string, methods []string) (*Tokens, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("token endpoint is unknown")
	}

	basic := useBasicAuth(clientSecret, methods)
	if !basic {
		form.Set("client_id", clientID)
		if clientSecret != "" {
			form.Set("client_secret", clientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if basic {
		req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	}

	c.logger.InfoVerbose("POST %s grant_type=%s", endpoint, form.Get("grant_type"))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error bodies are truncated rather than rejected so the status is
		// always reported.
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if err != nil {
			return nil, fmt.Errorf("token request failed with HTTP %d: %w", resp.StatusCode, err)
		}
		tokErr := &TokenRequestError{
			StatusCode: resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(body),
		}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			tokErr.Code = oauthErr.Error
			tokErr.Description = oauthErr.ErrorDescription
		}
		return nil, tokErr
	}

	body, err := readLimited(resp.Body, maxMetadataSize)
	if err != nil {
		return nil, err
	}

	var tokens Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	if err := tokens.Validate(); err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	return &tokens, nil
}
