package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

// UnauthorizedError reports that the MCP server rejected the bearer token.
type UnauthorizedError struct {
	Endpoint  string
	Challenge *oauth.WWWAuthenticateChallenge
	Err       error
}

func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("%s rejected the access token", e.Endpoint)
	if e.Challenge != nil && e.Challenge.Error != "" {
		msg += fmt.Sprintf(" (%s", e.Challenge.Error)
		if e.Challenge.ErrorDescription != "" {
			msg += ": " + e.Challenge.ErrorDescription
		}
		msg += ")"
	}
	return msg
}

func (e *UnauthorizedError) Unwrap() error { return e.Err }

// Client connects to an MCP server with a stored access token and lists what
// the token grants access to.
type Client struct {
	endpoint    string
	logger      *logging.Logger
	version     string
	tokenSource oauth2.TokenSource
	baseClient  *http.Client

	client             *client.Client
	challenges         *challengeRecorder
	toolCache          []mcp.Tool
	resourceCache      []mcp.Resource
	promptCache        []mcp.Prompt
	mu                 sync.RWMutex
	notificationChan   chan mcp.JSONRPCNotification
	serverInfo         mcp.Implementation
	serverCapabilities *mcp.ServerCapabilities
}

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	Endpoint string
	// TokenSource supplies the bearer token. Use oauth2.StaticTokenSource
	// for stored tokens; a nil source connects anonymously.
	TokenSource oauth2.TokenSource
	// HTTPClient is the base client wrapped by the bearer transport.
	HTTPClient *http.Client
	Logger     *logging.Logger
	Version    string
}

// NewClient creates a new client from a configuration.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = oauth.NewHTTPClient()
	}
	return &Client{
		endpoint:         cfg.Endpoint,
		logger:           cfg.Logger,
		version:          cfg.Version,
		tokenSource:      cfg.TokenSource,
		baseClient:       base,
		toolCache:        []mcp.Tool{},
		resourceCache:    []mcp.Resource{},
		promptCache:      []mcp.Prompt{},
		notificationChan: make(chan mcp.JSONRPCNotification, 10),
	}
}

// TokenSourceFor returns a static source for stored tokens.
func TokenSourceFor(tokens *oauth.Tokens) oauth2.TokenSource {
	if tokens == nil {
		return nil
	}
	return oauth2.StaticTokenSource(tokens.OAuth2Token())
}

// Connect opens the session, runs initialize and lists every capability the
// server advertises. A 401 at any point is returned as *UnauthorizedError.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to MCP server at %s...", c.endpoint)

	hc := c.httpClient(ctx)
	mcpClient, err := client.NewStreamableHttpClient(c.endpoint, transport.WithHTTPBasicClient(hc))
	if err != nil {
		return fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}
	c.client = mcpClient

	if err := mcpClient.Start(ctx); err != nil {
		return c.wrap("start client", err)
	}

	mcpClient.OnNotification(func(notification mcp.JSONRPCNotification) {
		select {
		case c.notificationChan <- notification:
		case <-ctx.Done():
		default:
			c.logger.WarningVerbose("Dropping notification %s, queue full", notification.Method)
		}
	})

	if err := c.initialize(ctx); err != nil {
		return c.wrap("initialization", err)
	}

	if c.ServerSupportsTools() {
		if err := c.listTools(ctx, true); err != nil {
			return c.wrap("initial tool listing", err)
		}
	} else {
		c.logger.Info("Server does not support tools capability")
	}

	if c.ServerSupportsResources() {
		if err := c.listResources(ctx, true); err != nil {
			return c.wrap("initial resource listing", err)
		}
	}

	if c.ServerSupportsPrompts() {
		if err := c.listPrompts(ctx, true); err != nil {
			return c.wrap("initial prompt listing", err)
		}
	}

	return nil
}

// httpClient layers the bearer transport over a recorder that keeps the last
// 401 challenge, so errors from mcp-go can be explained.
func (c *Client) httpClient(ctx context.Context) *http.Client {
	base := c.baseClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.challenges = &challengeRecorder{next: base}
	recorded := &http.Client{Transport: c.challenges, Timeout: c.baseClient.Timeout}

	if c.tokenSource == nil {
		return recorded
	}
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, recorded), c.tokenSource)
}

func (c *Client) wrap(operation string, err error) error {
	if header, ok := c.challenges.last(); ok {
		uerr := &UnauthorizedError{Endpoint: c.endpoint, Err: err}
		if challenge, perr := oauth.ParseWWWAuthenticate(header); perr == nil {
			uerr.Challenge = challenge
		}
		return uerr
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// Close ends the MCP session.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Listen logs notifications until ctx is done, refreshing the caches when
// the server announces list changes.
func (c *Client) Listen(ctx context.Context) error {
	c.logger.Info("Waiting for notifications (press Ctrl+C to exit)...")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutting down...")
			return nil

		case notification := <-c.notificationChan:
			if err := c.handleNotification(ctx, notification); err != nil {
				c.logger.Error("Failed to handle notification: %v", err)
			}
		}
	}
}

func (c *Client) initialize(ctx context.Context) error {
	version := c.version
	if version == "" {
		version = "dev"
	}
	req := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    serverName,
				Version: version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	c.logger.Request(methodInitialize, req.Params)

	result, err := c.client.Initialize(ctx, req)
	if err != nil {
		c.logger.Error("Initialize failed: %v", err)
		return err
	}

	c.logger.Response(methodInitialize, result)

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = &result.Capabilities
	c.mu.Unlock()

	return nil
}

// ServerInfo returns the implementation the server reported in initialize.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Tools returns the cached tool list.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Tool(nil), c.toolCache...)
}

// Resources returns the cached resource list.
func (c *Client) Resources() []mcp.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Resource(nil), c.resourceCache...)
}

// Prompts returns the cached prompt list.
func (c *Client) Prompts() []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Prompt(nil), c.promptCache...)
}

func (c *Client) ServerSupportsTools() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities != nil && c.serverCapabilities.Tools != nil
}

func (c *Client) ServerSupportsResources() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities != nil && c.serverCapabilities.Resources != nil
}

func (c *Client) ServerSupportsPrompts() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities != nil && c.serverCapabilities.Prompts != nil
}

// PrettyJSON pretty-prints JSON for display.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// challengeRecorder remembers the WWW-Authenticate header of the most recent
// 401 response.
type challengeRecorder struct {
	next http.RoundTripper

	mu     sync.Mutex
	header string
	seen   bool
}

func (r *challengeRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	r.mu.Lock()
	r.header = resp.Header.Get("WWW-Authenticate")
	r.seen = true
	r.mu.Unlock()
	return resp, nil
}

func (r *challengeRecorder) last() (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header, r.seen
}

// IsUnauthorized reports whether err is an *UnauthorizedError.
func IsUnauthorized(err error) bool {
	var uerr *UnauthorizedError
	return errors.As(err, &uerr)
}
