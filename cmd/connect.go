package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/agent"
)

var (
	connectServer string
	connectWait   time.Duration
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Check the stored token against the MCP server",
		Long: `Initialize an MCP session with the stored access token as the bearer and
list the server's tools, resources and prompts.

A 401 response is reported with the server's WWW-Authenticate challenge,
which usually means "auth login" or "auth refresh" is needed.

With --wait the session stays open and logs list-changed notifications.`,
		RunE: runConnect,
	}
	cmd.Flags().StringVarP(&connectServer, "server", "s", "", "MCP server URL or configured server name")
	cmd.Flags().DurationVar(&connectWait, "wait", 0, "Keep the session open and log notifications for this long")
	return cmd
}

func init() {
	rootCmd.AddCommand(newConnectCmd())
}

func runConnect(cmd *cobra.Command, args []string) error {
	if connectServer == "" {
		return errors.New("--server is required")
	}
	serverURL := cfg.Resolve(connectServer).ServerURL

	store, err := openFileStore()
	if err != nil {
		return err
	}
	defer store.Close()
	tokens, err := store.GetTokens(serverURL)
	if err != nil {
		return err
	}
	if tokens == nil {
		logger.Warning("No stored tokens for %s; connecting anonymously", serverURL)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	client := agent.NewClient(agent.ClientConfig{
		Endpoint:    serverURL,
		TokenSource: agent.TokenSourceFor(tokens),
		Logger:      logger,
		Version:     version,
	})
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		if agent.IsUnauthorized(err) {
			logger.Error("The server rejected the token. Run 'mcp-inspect auth login --server %s'.", connectServer)
		}
		return err
	}

	info := client.ServerInfo()
	logger.Success("Connected to %s %s", info.Name, info.Version)
	fmt.Fprint(cmd.OutOrStdout(), renderTools(client))

	if connectWait <= 0 {
		return nil
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, connectWait)
	defer cancelWait()
	return client.Listen(waitCtx)
}

func renderTools(c *agent.Client) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Tools (%d)", len(c.Tools()))
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("NAME"), text.FgHiCyan.Sprint("DESCRIPTION")})
	for _, tool := range c.Tools() {
		t.AppendRow(table.Row{tool.Name, tool.Description})
	}
	out := t.Render() + "\n"
	if n := len(c.Resources()); n > 0 {
		out += fmt.Sprintf("Resources: %d\n", n)
	}
	if n := len(c.Prompts()); n > 0 {
		out += fmt.Sprintf("Prompts: %d\n", n)
	}
	return out
}
