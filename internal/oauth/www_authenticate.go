package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// WWWAuthenticateChallenge is a parsed Bearer challenge (RFC 6750, RFC 9728).
type WWWAuthenticateChallenge struct {
	Scheme              string
	ResourceMetadataURL string
	Scopes              []string
	Error               string
	ErrorDescription    string
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value such as
//
//	Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource", scope="files:read"
func ParseWWWAuthenticate(header string) (*WWWAuthenticateChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	challenge := &WWWAuthenticateChallenge{Scheme: scheme}

	params := parseAuthParams(rest)
	challenge.ResourceMetadataURL = params["resource_metadata"]
	challenge.Error = params["error"]
	challenge.ErrorDescription = params["error_description"]
	if s := params["scope"]; s != "" {
		challenge.Scopes = strings.Fields(s)
	}
	return challenge, nil
}

// parseAuthParams parses key="value", key=value pairs, keeping commas that
// appear inside quotes.
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)
	for _, part := range splitPreservingQuotes(params, ',') {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if key != "" {
			result[key] = value
		}
	}
	return result
}

func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// FetchChallenge sends an unauthenticated request to the MCP endpoint and
// returns the Bearer challenge from a 401 response. A server that does not
// answer 401 yields a nil challenge and no error.
func (d *Discoverer) FetchChallenge(ctx context.Context, serverURL string) (*WWWAuthenticateChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL,
		strings.NewReader(`{"jsonrpc":"2.0","id":0,"method":"ping"}`))
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		return nil, nil
	}
	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return nil, nil
	}
	return ParseWWWAuthenticate(header)
}
