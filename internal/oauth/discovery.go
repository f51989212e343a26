package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// Discoverer resolves protected resource and authorization server metadata.
type Discoverer struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDiscoverer creates a Discoverer. A nil client selects NewHTTPClient.
func NewDiscoverer(httpClient *http.Client, logger *logging.Logger) *Discoverer {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Discoverer{httpClient: httpClient, logger: logger}
}

// DiscoveryResult is everything the metadata_discovery step learns.
type DiscoveryResult struct {
	ResourceMetadata      *ProtectedResourceMetadata
	ResourceMetadataError error
	AuthServerURL         string
	AuthServerMetadata    *AuthorizationServerMetadata
	ResourceURL           string
}

// Discover runs resource discovery and then authorization server discovery.
// The first advertised authorization server wins; without resource metadata
// the server's origin is used. Only the authorization server lookup can fail.
func (d *Discoverer) Discover(ctx context.Context, serverURL string) (*DiscoveryResult, error) {
	return d.discover(ctx, serverURL, "", nil)
}

// DiscoverWithChallenge is Discover with a preferred authorization server and
// an optional WWW-Authenticate challenge whose resource_metadata URL is tried
// before the well-known locations.
func (d *Discoverer) DiscoverWithChallenge(ctx context.Context, serverURL, preferredAuthServer string, challenge *WWWAuthenticateChallenge) (*DiscoveryResult, error) {
	return d.discover(ctx, serverURL, preferredAuthServer, challenge)
}

func (d *Discoverer) discover(ctx context.Context, serverURL, preferredAuthServer string, challenge *WWWAuthenticateChallenge) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}

	result.ResourceMetadata, result.ResourceMetadataError = d.probeResourceMetadata(ctx, serverURL, challenge)
	if result.ResourceMetadataError != nil {
		d.logger.WarningVerbose("Protected resource metadata unavailable: %v", result.ResourceMetadataError)
	}

	if result.ResourceMetadata != nil {
		as, err := selectAuthorizationServer(result.ResourceMetadata, preferredAuthServer)
		if err != nil {
			return result, err
		}
		result.AuthServerURL = as
		result.ResourceURL = result.ResourceMetadata.Resource
	} else {
		origin, err := originOf(serverURL)
		if err != nil {
			return result, err
		}
		result.AuthServerURL = origin
	}

	meta, err := d.DiscoverAuthServerMetadata(ctx, result.AuthServerURL)
	if err != nil {
		return result, err
	}
	result.AuthServerMetadata = meta
	return result, nil
}

// DiscoverResourceMetadata returns RFC 9728 metadata for serverURL, or nil if
// none could be fetched. Errors are logged and swallowed.
func (d *Discoverer) DiscoverResourceMetadata(ctx context.Context, serverURL string) *ProtectedResourceMetadata {
	meta, err := d.ProbeResourceMetadata(ctx, serverURL)
	if err != nil {
		d.logger.WarningVerbose("Protected resource metadata unavailable: %v", err)
		return nil
	}
	return meta
}

// ProbeResourceMetadata is DiscoverResourceMetadata with the error returned.
func (d *Discoverer) ProbeResourceMetadata(ctx context.Context, serverURL string) (*ProtectedResourceMetadata, error) {
	return d.probeResourceMetadata(ctx, serverURL, nil)
}

func (d *Discoverer) probeResourceMetadata(ctx context.Context, serverURL string, challenge *WWWAuthenticateChallenge) (*ProtectedResourceMetadata, error) {
	if challenge != nil && challenge.ResourceMetadataURL != "" {
		d.logger.InfoVerbose("Using resource_metadata URL from WWW-Authenticate: %s", challenge.ResourceMetadataURL)
		meta, err := d.fetchResourceMetadata(ctx, challenge.ResourceMetadataURL)
		if err == nil {
			return meta, nil
		}
		d.logger.WarningVerbose("Challenge resource_metadata failed, falling back to well-known URIs: %v", err)
	}

	uris, err := buildWellKnownURIs(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build well-known URIs: %w", err)
	}

	var errs []error
	for i, uri := range uris {
		d.logger.InfoVerbose("Trying protected resource metadata (%d/%d): %s", i+1, len(uris), uri)
		meta, err := d.fetchResourceMetadata(ctx, uri)
		if err != nil {
			errs = append(errs, &DiscoveryError{URL: uri, Err: err})
			continue
		}
		d.logger.InfoVerbose("Discovered protected resource metadata at %s", uri)
		return meta, nil
	}
	return nil, errors.Join(errs...)
}

func (d *Discoverer) fetchResourceMetadata(ctx context.Context, metadataURL string) (*ProtectedResourceMetadata, error) {
	var meta ProtectedResourceMetadata
	if err := getJSON(ctx, d.httpClient, metadataURL, maxMetadataSize, &meta); err != nil {
		return nil, err
	}
	if err := validateProtectedResourceMetadata(&meta); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return &meta, nil
}

// buildWellKnownURIs returns the RFC 9728 locations for endpoint, path-suffixed
// form first.
func buildWellKnownURIs(endpoint string) ([]string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("endpoint URL must include scheme and host")
	}

	base := parsed.Scheme + "://" + parsed.Host
	var uris []string
	if p := normalizePath(parsed.Path); p != "" {
		uris = append(uris, base+"/.well-known/oauth-protected-resource/"+p)
	}
	return append(uris, base+"/.well-known/oauth-protected-resource"), nil
}

func validateProtectedResourceMetadata(meta *ProtectedResourceMetadata) error {
	if meta.Resource == "" {
		return fmt.Errorf("missing required field: resource")
	}
	if len(meta.AuthorizationServers) == 0 {
		return fmt.Errorf("missing required field: authorization_servers (at least one required)")
	}
	for i, as := range meta.AuthorizationServers {
		parsed, err := url.Parse(as)
		if err != nil {
			return fmt.Errorf("invalid authorization server URL at index %d: %w", i, err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("authorization server URL at index %d must be absolute: %s", i, as)
		}
		if parsed.Scheme != schemeHTTPS && parsed.Scheme != schemeHTTP {
			return fmt.Errorf("authorization server URL at index %d must use http or https scheme: %s", i, as)
		}
	}
	return nil
}

// selectAuthorizationServer returns preferred if the resource lists it, or the
// first listed server otherwise.
func selectAuthorizationServer(meta *ProtectedResourceMetadata, preferred string) (string, error) {
	if len(meta.AuthorizationServers) == 0 {
		return "", fmt.Errorf("no authorization servers available")
	}
	if preferred == "" {
		return meta.AuthorizationServers[0], nil
	}
	for _, as := range meta.AuthorizationServers {
		if as == preferred {
			return as, nil
		}
	}
	return "", fmt.Errorf("preferred authorization server not found: %s", preferred)
}

// DiscoverAuthServerMetadata probes the RFC 8414 and OpenID Connect discovery
// locations for issuerURL and returns the first valid document.
//
// With a path component (https://auth.example.com/tenant1):
//  1. /.well-known/oauth-authorization-server/tenant1
//  2. /.well-known/openid-configuration/tenant1
//  3. /tenant1/.well-known/openid-configuration
//
// Without one:
//  1. /.well-known/oauth-authorization-server
//  2. /.well-known/openid-configuration
func (d *Discoverer) DiscoverAuthServerMetadata(ctx context.Context, issuerURL string) (*AuthorizationServerMetadata, error) {
	endpoints, err := buildASMetadataEndpoints(issuerURL)
	if err != nil {
		return nil, &DiscoveryError{URL: issuerURL, Err: err}
	}

	var lastErr error
	for i, endpoint := range endpoints {
		d.logger.InfoVerbose("Trying AS metadata endpoint (%d/%d): %s", i+1, len(endpoints), endpoint)

		var meta AuthorizationServerMetadata
		if err := getJSON(ctx, d.httpClient, endpoint, maxMetadataSize, &meta); err != nil {
			d.logger.WarningVerbose("Failed to fetch from %s: %v", endpoint, err)
			lastErr = &DiscoveryError{URL: endpoint, Err: err}
			continue
		}
		if err := validateASMetadata(&meta); err != nil {
			d.logger.WarningVerbose("Invalid metadata from %s: %v", endpoint, err)
			lastErr = &DiscoveryError{URL: endpoint, Err: err}
			continue
		}

		d.logger.Info("Discovered authorization server metadata at %s", endpoint)
		return &meta, nil
	}

	return nil, fmt.Errorf("no valid authorization server metadata for %s: %w", issuerURL, lastErr)
}

func buildASMetadataEndpoints(issuerURL string) ([]string, error) {
	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if err := requireSecureURL("issuer", issuerURL); err != nil {
		return nil, err
	}

	base := parsed.Scheme + "://" + parsed.Host
	if p := normalizePath(parsed.Path); p != "" {
		return []string{
			base + "/.well-known/oauth-authorization-server/" + p,
			base + "/.well-known/openid-configuration/" + p,
			base + "/" + p + "/.well-known/openid-configuration",
		}, nil
	}
	return []string{
		base + "/.well-known/oauth-authorization-server",
		base + "/.well-known/openid-configuration",
	}, nil
}

func validateASMetadata(meta *AuthorizationServerMetadata) error {
	if meta.Issuer == "" {
		return fmt.Errorf("missing required field: issuer")
	}
	if meta.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing required field: authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		return fmt.Errorf("missing required field: token_endpoint")
	}

	endpoints := [][2]string{
		{"issuer", meta.Issuer},
		{"authorization_endpoint", meta.AuthorizationEndpoint},
		{"token_endpoint", meta.TokenEndpoint},
	}
	if meta.RegistrationEndpoint != "" {
		endpoints = append(endpoints, [2]string{"registration_endpoint", meta.RegistrationEndpoint})
	}
	for _, ep := range endpoints {
		if err := requireSecureURL(ep[0], ep[1]); err != nil {
			return err
		}
	}
	return nil
}

// DiscoverScopes resolves the scope string for an authorization request:
// resource scopes first, then authorization server scopes. An empty result
// means the scope parameter must be omitted.
func (d *Discoverer) DiscoverScopes(ctx context.Context, serverURL string, resourceMetadata *ProtectedResourceMetadata) string {
	if resourceMetadata != nil && len(resourceMetadata.ScopesSupported) > 0 {
		return strings.Join(resourceMetadata.ScopesSupported, " ")
	}

	asURL := ""
	if resourceMetadata != nil && len(resourceMetadata.AuthorizationServers) > 0 {
		asURL = resourceMetadata.AuthorizationServers[0]
	} else if origin, err := originOf(serverURL); err == nil {
		asURL = origin
	}
	if asURL == "" {
		return ""
	}

	meta, err := d.DiscoverAuthServerMetadata(ctx, asURL)
	if err != nil {
		d.logger.WarningVerbose("Scope discovery failed: %v", err)
		return ""
	}
	return SelectScopes(resourceMetadata, meta)
}

// SelectScopes applies the scope preference to already-fetched metadata.
func SelectScopes(resourceMetadata *ProtectedResourceMetadata, asMetadata *AuthorizationServerMetadata) string {
	if resourceMetadata != nil && len(resourceMetadata.ScopesSupported) > 0 {
		return strings.Join(resourceMetadata.ScopesSupported, " ")
	}
	if asMetadata != nil && len(asMetadata.ScopesSupported) > 0 {
		return strings.Join(asMetadata.ScopesSupported, " ")
	}
	return ""
}

func originOf(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("server URL must include scheme and host: %s", serverURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func normalizePath(p string) string {
	return strings.Trim(p, "/")
}
