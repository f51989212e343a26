package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DeriveResourceURI returns the canonical RFC 8707 resource identifier for an
// MCP endpoint: lowercase scheme and host, no default port, no query or
// fragment, and no trailing slash except for the root path.
//
//	https://MCP.Example.Com:443/mcp -> https://mcp.example.com/mcp
//	http://localhost:8090/mcp/      -> http://localhost:8090/mcp
func DeriveResourceURI(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("endpoint URL missing scheme: %s", endpoint)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("endpoint URL missing host: %s", endpoint)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)

	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		hostname, port = strings.Trim(host, "[]"), ""
	}
	if (scheme == schemeHTTPS && port == "443") || (scheme == schemeHTTP && port == "80") {
		port = ""
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		hostname += ":" + port
	}

	path := parsed.Path
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	return scheme + "://" + hostname + path, nil
}
