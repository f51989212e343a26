package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ClientMetadata is the client metadata sent to a registration endpoint
// (RFC 7591) or served as a client ID metadata document.
type ClientMetadata struct {
	ClientID                string   `json:"client_id,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// DefaultClientName is used when registering without an explicit name.
const DefaultClientName = "mcp-inspect"

// DefaultClientMetadata builds the registration document used when the caller
// does not supply one.
func DefaultClientMetadata(redirectURIs []string, scope, clientName string) *ClientMetadata {
	if clientName == "" {
		clientName = DefaultClientName
	}
	return &ClientMetadata{
		ClientName:              clientName,
		ClientURI:               "https://github.com/giantswarm/mcp-inspect",
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string{grantTypeAuthorizationCode},
		ResponseTypes:           []string{responseTypeCode},
		TokenEndpointAuthMethod: authMethodPost,
		Scope:                   scope,
	}
}

// ClientIDMetadataDocument builds the document to host at clientIDURL so an
// authorization server can resolve the URL as a client_id.
func ClientIDMetadataDocument(clientIDURL string, redirectURIs []string, clientName string) (*ClientMetadata, error) {
	if err := ValidateClientIDURL(clientIDURL); err != nil {
		return nil, fmt.Errorf("invalid client_id URL: %w", err)
	}
	doc := DefaultClientMetadata(redirectURIs, "", clientName)
	doc.ClientID = clientIDURL
	doc.TokenEndpointAuthMethod = authMethodNone
	return doc, nil
}

// ValidateClientIDURL checks that a URL can serve as a client_id: absolute,
// https even for localhost, and with a non-root path.
func ValidateClientIDURL(clientIDURL string) error {
	if clientIDURL == "" {
		return fmt.Errorf("client_id URL cannot be empty")
	}
	parsed, err := url.Parse(clientIDURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("client_id URL must be absolute")
	}
	if parsed.Scheme != schemeHTTPS {
		return fmt.Errorf("client_id URL must use https scheme, got: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("client_id URL missing host")
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return fmt.Errorf("client_id URL must contain a path component (cannot be just https://%s)", parsed.Host)
	}
	return nil
}

// ValidateClientMetadata checks a fetched client ID metadata document.
func ValidateClientMetadata(doc *ClientMetadata) error {
	if err := ValidateClientIDURL(doc.ClientID); err != nil {
		return fmt.Errorf("invalid client_id: %w", err)
	}
	if len(doc.RedirectURIs) == 0 {
		return fmt.Errorf("redirect_uris is required (at least one)")
	}
	for i, uri := range doc.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid redirect_uri at index %d: %w", i, err)
		}
		if !parsed.IsAbs() || (parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS) {
			return fmt.Errorf("redirect_uri at index %d must be an absolute http(s) URL: %s", i, uri)
		}
	}
	return nil
}

// FetchClientMetadata downloads and validates the document hosted at clientIDURL.
func FetchClientMetadata(ctx context.Context, httpClient *http.Client, clientIDURL string) (*ClientMetadata, error) {
	if err := ValidateClientIDURL(clientIDURL); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	var doc ClientMetadata
	if err := getJSON(ctx, httpClient, clientIDURL, maxClientMetadataSize, &doc); err != nil {
		return nil, err
	}
	if err := ValidateClientMetadata(&doc); err != nil {
		return nil, fmt.Errorf("invalid client metadata: %w", err)
	}
	return &doc, nil
}

// SupportsClientIDMetadata reports whether the authorization server accepts
// URL client identifiers.
func SupportsClientIDMetadata(meta *AuthorizationServerMetadata) bool {
	return meta != nil && meta.ClientIDMetadataDocumentSupported
}
