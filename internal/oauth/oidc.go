package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenSignatureWarning accompanies every ValidateIDToken result.
const IDTokenSignatureWarning = "ID token signature was NOT verified; only iss, aud and exp were checked. Do not rely on these claims for authorization decisions."

// FetchUserInfo performs a bearer-authenticated GET against an OpenID Connect
// UserInfo endpoint and returns the raw claims.
func (c *TokenClient) FetchUserInfo(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("userinfo endpoint is unknown")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readLimited(resp.Body, maxMetadataSize)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: HTTP %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), body)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return claims, nil
}

// IDTokenExpectations are the values the claims are compared with. Empty
// fields are not checked. Now defaults to time.Now.
type IDTokenExpectations struct {
	Issuer   string
	ClientID string
	Now      func() time.Time
}

// IDTokenValidation is the outcome of the claims check.
type IDTokenValidation struct {
	Valid   bool          `json:"valid"`
	Claims  jwt.MapClaims `json:"claims,omitempty"`
	Errors  []string      `json:"errors,omitempty"`
	Warning string        `json:"warning"`
}

// ValidateIDToken decodes the JWT payload and checks iss, aud and exp. The
// signature is not verified; the Warning field always says so.
func ValidateIDToken(idToken string, want IDTokenExpectations) (*IDTokenValidation, error) {
	result := &IDTokenValidation{Warning: IDTokenSignatureWarning}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to decode ID token: %w", err)
	}
	result.Claims = claims

	now := time.Now
	if want.Now != nil {
		now = want.Now
	}

	if want.Issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != want.Issuer {
			result.Errors = append(result.Errors, fmt.Sprintf("issuer mismatch: expected %q, got %q", want.Issuer, iss))
		}
	}

	if want.ClientID != "" {
		aud, err := claims.GetAudience()
		found := false
		if err == nil {
			for _, a := range aud {
				if a == want.ClientID {
					found = true
					break
				}
			}
		}
		if !found {
			result.Errors = append(result.Errors, fmt.Sprintf("audience %v does not contain client %q", []string(aud), want.ClientID))
		}
	}

	exp, err := claims.GetExpirationTime()
	switch {
	case err != nil:
		result.Errors = append(result.Errors, fmt.Sprintf("invalid exp claim: %v", err))
	case exp == nil:
		result.Errors = append(result.Errors, "missing exp claim")
	case !now().Before(exp.Time):
		result.Errors = append(result.Errors, fmt.Sprintf("token expired at %s", exp.Time.UTC().Format(time.RFC3339)))
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}
