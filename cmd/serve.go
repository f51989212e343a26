package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/agent"
)

var (
	serveTransport  string
	serveListenAddr string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the OAuth flows as MCP tools",
		Long: `Run an MCP server whose tools drive the quick and guided OAuth flows,
for AI assistants such as Claude or Cursor.

Every tool takes a "server" argument: an MCP server URL or a configured
server name. Tokens, authorization codes and client secrets are redacted
from tool results. Logs go to stderr.

Tools:
  auth_status, auth_clear
  auth_quick_start, auth_quick_complete
  auth_guided_start, auth_guided_next, auth_guided_run, auth_guided_set_code`,
		Annotations: map[string]string{annotationStdio: "true"},
		RunE:        runServe,
	}
	cmd.Flags().StringVar(&serveTransport, "transport", agent.TransportStdio, "Transport for the MCP server (stdio, streamable-http)")
	cmd.Flags().StringVar(&serveListenAddr, "listen-addr", "127.0.0.1:8899", "Listen address for streamable-http (path is fixed to /mcp)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := openFileStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions := agent.NewSessions(agent.NewSessionFactory(cfg, store, logger))
	defer func() { _ = sessions.Close(cmd.Context()) }()

	server, err := agent.NewMCPServer(sessions, serveTransport, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logger.Info("Starting mcp-inspect MCP server (transport: %s)...", serveTransport)
	if serveTransport == agent.TransportStreamableHTTP {
		logger.Info("Listening on http://%s/mcp", serveListenAddr)
	}
	if err := server.Start(ctx, serveListenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
