package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// Registrar obtains client credentials.
type Registrar struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewRegistrar creates a Registrar. A nil client selects NewHTTPClient.
func NewRegistrar(httpClient *http.Client, logger *logging.Logger) *Registrar {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Registrar{httpClient: httpClient, logger: logger}
}

// RegistrationRequest describes how to obtain a client. Static credentials win
// over a client ID metadata URL, which wins over dynamic registration.
type RegistrationRequest struct {
	ClientID     string
	ClientSecret string

	ClientIDMetadataURL string

	Metadata          *AuthorizationServerMetadata
	ClientMetadata    *ClientMetadata
	RedirectURIs      []string
	Scope             string
	ClientName        string
	RegistrationToken string
	PublicClient      bool
}

// RegisteredClient is the outcome of RegisterClient.
type RegisteredClient struct {
	Info      ClientInformation
	IsDynamic bool
}

// RegisterClient returns static credentials untouched, or performs RFC 7591
// dynamic registration against the discovered registration endpoint.
func (r *Registrar) RegisterClient(ctx context.Context, req RegistrationRequest) (*RegisteredClient, error) {
	if req.ClientID != "" {
		r.logger.InfoVerbose("Using pre-registered client %s", req.ClientID)
		return &RegisteredClient{
			Info: ClientInformation{ClientID: req.ClientID, ClientSecret: req.ClientSecret},
		}, nil
	}

	if req.ClientIDMetadataURL != "" && SupportsClientIDMetadata(req.Metadata) {
		if err := ValidateClientIDURL(req.ClientIDMetadataURL); err != nil {
			return nil, fmt.Errorf("client ID metadata URL: %w", err)
		}
		r.logger.Info("Using client ID metadata document %s as client_id", req.ClientIDMetadataURL)
		return &RegisteredClient{
			Info: ClientInformation{
				ClientID:                req.ClientIDMetadataURL,
				RedirectURIs:            req.RedirectURIs,
				TokenEndpointAuthMethod: authMethodNone,
			},
		}, nil
	}

	if req.Metadata == nil || req.Metadata.RegistrationEndpoint == "" {
		return nil, ErrNoRegistrationEndpoint
	}

	doc := req.ClientMetadata
	if doc == nil {
		doc = DefaultClientMetadata(req.RedirectURIs, req.Scope, req.ClientName)
		if req.PublicClient && slices.Contains(req.Metadata.TokenEndpointAuthMethodsSupported, authMethodNone) {
			doc.TokenEndpointAuthMethod = authMethodNone
		}
	}

	info, err := r.register(ctx, req.Metadata.RegistrationEndpoint, req.RegistrationToken, doc)
	if err != nil {
		return nil, err
	}
	r.logger.Audit("client_registered", "registration_endpoint", req.Metadata.RegistrationEndpoint, "client_id", info.ClientID)
	return &RegisteredClient{Info: *info, IsDynamic: true}, nil
}

func (r *Registrar) register(ctx context.Context, endpoint, token string, doc *ClientMetadata) (*ClientInformation, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client metadata: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)

	client := r.httpClient
	if token != "" {
		c := *r.httpClient
		c.Transport = newRegistrationTokenRoundTripper(endpoint, token, r.httpClient.Transport)
		client = &c
	}

	r.logger.InfoVerbose("Registering client at %s", endpoint)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client registration request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readLimited(resp.Body, maxMetadataSize)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		regErr := &RegistrationError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &oauthErr) == nil {
			regErr.Code = oauthErr.Error
			regErr.Description = oauthErr.ErrorDescription
		}
		return nil, regErr
	}

	var info ClientInformation
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("registration response: %w", err)
	}
	return &info, nil
}
