package oauth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// NewHTTPClient returns the client used for discovery, registration and token
// requests when the caller does not supply one.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// isLoopback checks a URL host (with or without port) against the loopback names.
func isLoopback(host string) bool {
	hostname := host
	if u, err := url.Parse("//" + host); err == nil && u.Hostname() != "" {
		hostname = u.Hostname()
	}
	return hostname == hostLocal || hostname == hostLoopback || hostname == hostIPv6Loop
}

// requireSecureURL accepts absolute https URLs, and http only for loopback hosts.
func requireSecureURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", name, err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("%s must be absolute URL: %s", name, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s missing host: %s", name, raw)
	}
	switch parsed.Scheme {
	case schemeHTTPS:
		return nil
	case schemeHTTP:
		if isLoopback(parsed.Host) {
			return nil
		}
		return fmt.Errorf("%s must use https scheme (http only allowed for localhost): %s", name, raw)
	default:
		return fmt.Errorf("%s must use http or https scheme: %s", name, raw)
	}
}

// getJSON fetches a JSON document with a size limit and decodes it into out.
func getJSON(ctx context.Context, client *http.Client, target string, limit int64, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return fmt.Errorf("unexpected Content-Type: %s (expected application/json)", contentType)
	}

	body, err := readLimited(resp.Body, limit)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) >= limit {
		return nil, fmt.Errorf("response exceeds maximum size of %d bytes", limit)
	}
	return body, nil
}
