package agent

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-inspect/internal/browser"
	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// MCPServer exposes the quick and guided flows as MCP tools. Every tool takes
// a server argument, a configured name or a URL.
type MCPServer struct {
	sessions        *Sessions
	logger          *logging.Logger
	mcpServer       *server.MCPServer
	serverTransport string
	openURL         func(string) error
}

// NewMCPServer creates the server; version is reported in initialize.
func NewMCPServer(sessions *Sessions, serverTransport, version string, logger *logging.Logger) (*MCPServer, error) {
	switch serverTransport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported server transport: %s", serverTransport)
	}
	if version == "" {
		version = "dev"
	}

	mcpServer := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
	)

	ms := &MCPServer{
		sessions:        sessions,
		logger:          logger,
		mcpServer:       mcpServer,
		serverTransport: serverTransport,
		openURL:         browser.Open,
	}
	ms.registerTools()
	return ms, nil
}

// Start serves until the transport ends. listenAddr is used by
// streamable-http only.
func (m *MCPServer) Start(ctx context.Context, listenAddr string) error {
	switch m.serverTransport {
	case TransportStdio:
		return server.ServeStdio(m.mcpServer)
	case TransportStreamableHTTP:
		httpServer := server.NewStreamableHTTPServer(
			m.mcpServer,
			server.WithEndpointPath("/mcp"),
		)
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(listenAddr) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unsupported server transport: %s", m.serverTransport)
	}
}

// Server returns the underlying mcp-go server.
func (m *MCPServer) Server() *server.MCPServer { return m.mcpServer }

func serverArg() mcp.ToolOption {
	return mcp.WithString("server",
		mcp.Required(),
		mcp.Description("Configured server name or MCP server URL"),
	)
}

func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(mcp.NewTool(toolAuthStatus,
		mcp.WithDescription("Show the OAuth flow state and stored tokens for a server"),
		serverArg(),
	), m.handleStatus)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthQuickStart,
		mcp.WithDescription("Start a quick OAuth flow and return the authorization URL to open"),
		serverArg(),
		mcp.WithBoolean("listen",
			mcp.Description("Start a loopback listener for the redirect (default true)"),
		),
		mcp.WithBoolean("open_browser",
			mcp.Description("Open the authorization URL in the local browser"),
		),
	), m.handleQuickStart)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthQuickComplete,
		mcp.WithDescription("Finish a quick flow with an authorization code or the full redirect URL"),
		serverArg(),
		mcp.WithString("code",
			mcp.Description("Authorization code"),
		),
		mcp.WithString("redirect_url",
			mcp.Description("The URL the browser was redirected to, including its query"),
		),
	), m.handleQuickComplete)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthGuidedStart,
		mcp.WithDescription("Start a guided OAuth flow at metadata discovery"),
		serverArg(),
	), m.handleGuidedStart)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthGuidedNext,
		mcp.WithDescription("Run the current step of the guided flow"),
		serverArg(),
	), m.handleGuidedNext)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthGuidedRun,
		mcp.WithDescription("Run the guided flow until it completes or needs an authorization code"),
		serverArg(),
	), m.handleGuidedRun)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthGuidedSetCode,
		mcp.WithDescription("Supply the authorization code to the guided flow"),
		serverArg(),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Authorization code"),
		),
		mcp.WithBoolean("auto_advance",
			mcp.Description("Run the token request right away"),
		),
	), m.handleGuidedSetCode)

	m.mcpServer.AddTool(mcp.NewTool(toolAuthClear,
		mcp.WithDescription("Forget everything stored for a server"),
		serverArg(),
	), m.handleClear)
}
