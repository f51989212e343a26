package oauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Step executors. Each runs with StateMachine.mu held and writes its own
// fields of the flow state only once its work has succeeded.

func (m *StateMachine) discoverMetadata(ctx context.Context) error {
	challenge, err := m.discoverer.FetchChallenge(ctx, m.cfg.ServerURL)
	if err != nil {
		m.logger.WarningVerbose("Could not probe %s for a Bearer challenge: %v", m.cfg.ServerURL, err)
	}
	m.challenge = challenge

	res, err := m.discoverer.DiscoverWithChallenge(ctx, m.cfg.ServerURL, m.cfg.PreferredAuthServer, challenge)

	// Resource metadata is informational even when the authorization server
	// lookup fails, so it is recorded either way.
	m.state.ResourceMetadata = res.ResourceMetadata
	m.state.ResourceMetadataError = ""
	if res.ResourceMetadataError != nil {
		m.state.ResourceMetadataError = res.ResourceMetadataError.Error()
	}
	if err != nil {
		return err
	}

	resource, err := m.resolveResource(res)
	if err != nil {
		return err
	}

	if err := m.storage.SaveServerMetadata(m.cfg.ServerURL, res.AuthServerMetadata); err != nil {
		return fmt.Errorf("save server metadata: %w", err)
	}

	m.state.AuthServerURL = res.AuthServerURL
	m.state.OAuthMetadata = res.AuthServerMetadata
	m.state.ResourceURL = resource

	if err := CheckPKCESupport(res.AuthServerMetadata); errors.Is(err, ErrPKCENotAdvertised) {
		m.logger.Warning("Authorization server does not advertise PKCE support; S256 will be used anyway")
	}
	return nil
}

func (m *StateMachine) resolveResource(res *DiscoveryResult) (string, error) {
	switch {
	case m.cfg.ResourceURI != "":
		return m.cfg.ResourceURI, nil
	case res.ResourceURL != "":
		return res.ResourceURL, nil
	case m.cfg.DeriveResource:
		return DeriveResourceURI(m.cfg.ServerURL)
	default:
		return "", nil
	}
}

func (m *StateMachine) registerClient(ctx context.Context) error {
	if m.state.OAuthMetadata == nil {
		return fmt.Errorf("authorization server metadata is missing; rerun metadata discovery")
	}

	redirectURIs := []string{m.cfg.RedirectURL, m.cfg.GuidedRedirectURL}

	if m.cfg.ClientID == "" {
		existing, err := m.storage.GetClientInformation(m.cfg.ServerURL, false)
		if err != nil {
			return fmt.Errorf("load client information: %w", err)
		}
		if existing != nil && coversRedirects(existing, redirectURIs) {
			m.logger.Info("Reusing registered client %s", existing.ClientID)
			m.state.OAuthClientInfo = existing
			return nil
		}
	}

	reg, err := m.registrar.RegisterClient(ctx, RegistrationRequest{
		ClientID:            m.cfg.ClientID,
		ClientSecret:        m.cfg.ClientSecret,
		ClientIDMetadataURL: m.cfg.ClientIDMetadataURL,
		Metadata:            m.state.OAuthMetadata,
		RedirectURIs:        redirectURIs,
		Scope:               m.cfg.Scope,
		ClientName:          m.cfg.ClientName,
		RegistrationToken:   m.cfg.RegistrationToken,
		PublicClient:        m.cfg.PublicClient,
	})
	if err != nil {
		return err
	}

	info := reg.Info
	if err := m.storage.SaveClientInformation(m.cfg.ServerURL, &info, !reg.IsDynamic); err != nil {
		return fmt.Errorf("save client information: %w", err)
	}
	if reg.IsDynamic {
		m.logger.Success("Registered client %s", info.ClientID)
	}
	m.state.OAuthClientInfo = &info
	return nil
}

// coversRedirects reports whether a stored registration can be reused for the
// current redirect URLs. Loopback ports change between runs.
func coversRedirects(info *ClientInformation, redirectURIs []string) bool {
	if len(info.RedirectURIs) == 0 {
		return true
	}
	for _, uri := range redirectURIs {
		if !slices.Contains(info.RedirectURIs, uri) {
			return false
		}
	}
	return true
}

func (m *StateMachine) buildAuthorizationURL() error {
	if m.state.OAuthClientInfo == nil {
		return fmt.Errorf("client information is missing; rerun client registration")
	}

	scope := m.cfg.Scope
	if scope == "" && m.challenge != nil && len(m.challenge.Scopes) > 0 {
		scope = strings.Join(m.challenge.Scopes, " ")
	}
	if scope == "" {
		scope = SelectScopes(m.state.ResourceMetadata, m.state.OAuthMetadata)
	}

	start, err := CreateAuthorizationURL(AuthorizationRequest{
		Metadata:    m.state.OAuthMetadata,
		ClientID:    m.state.OAuthClientInfo.ClientID,
		RedirectURI: m.redirectURL(),
		Scope:       scope,
		Resource:    m.state.ResourceURL,
		Mode:        m.state.AuthType,
	})
	if err != nil {
		return err
	}

	if err := m.storage.SaveCodeVerifier(m.cfg.ServerURL, start.CodeVerifier); err != nil {
		return fmt.Errorf("save code verifier: %w", err)
	}
	if scope != "" {
		err = m.storage.SaveScope(m.cfg.ServerURL, scope)
	} else {
		err = m.storage.ClearScope(m.cfg.ServerURL)
	}
	if err != nil {
		return fmt.Errorf("save scope: %w", err)
	}
	if err := m.storage.SaveResource(m.cfg.ServerURL, m.state.ResourceURL); err != nil {
		return fmt.Errorf("save resource: %w", err)
	}

	m.state.AuthorizationURL = start.AuthorizationURL
	m.state.State = start.State
	m.state.Scope = scope
	return nil
}

func (m *StateMachine) checkAuthorizationCode() error {
	if strings.TrimSpace(m.state.AuthorizationCode) == "" {
		m.state.ValidationError = "You need to provide an authorization code"
		return &ValidationError{Field: "authorization_code", Message: ErrMissingAuthorizationCode.Error()}
	}
	m.state.ValidationError = ""
	return nil
}

func (m *StateMachine) requestTokens(ctx context.Context) error {
	meta := m.state.OAuthMetadata
	if meta == nil {
		return fmt.Errorf("authorization server metadata is missing")
	}
	client, err := m.loadClient()
	if err != nil {
		return err
	}
	verifier, err := m.storage.GetCodeVerifier(m.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("load code verifier: %w", err)
	}
	if verifier == "" {
		return fmt.Errorf("no code verifier stored for %s; start a new authorization", m.cfg.ServerURL)
	}

	tokens, err := m.tokens.ExchangeToken(ctx, TokenExchangeRequest{
		TokenEndpoint: meta.TokenEndpoint,
		Code:          m.state.AuthorizationCode,
		RedirectURI:   m.redirectURL(),
		ClientID:      client.ClientID,
		ClientSecret:  client.ClientSecret,
		CodeVerifier:  verifier,
		Resource:      m.state.ResourceURL,
		AuthMethods:   meta.TokenEndpointAuthMethodsSupported,
	})
	if err != nil {
		return err
	}

	if err := m.storage.SaveTokens(m.cfg.ServerURL, tokens); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	if err := m.storage.ClearCodeVerifier(m.cfg.ServerURL); err != nil {
		m.logger.Warning("Failed to clear code verifier: %v", err)
	}
	m.logger.Audit("tokens_saved", "server", m.cfg.ServerURL, "auth_id", m.state.AuthID, "scope", tokens.Scope)

	m.state.OAuthTokens = tokens
	return nil
}
