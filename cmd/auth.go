package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/browser"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

var errNotAuthenticated = errors.New("not authenticated")

var (
	authServer     string
	loginNoBrowser bool
	loginTimeout   time.Duration
	clearAll       bool
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run and inspect OAuth flows against MCP servers",
	Long: `Run and inspect the OAuth authorization flow of an MCP server.

--server takes a URL or the name of a servers entry in the config file.

Examples:
  mcp-inspect auth login --server https://mcp.example.com/mcp
  mcp-inspect auth guided --server example
  mcp-inspect auth status --watch
  mcp-inspect auth refresh --server example
  mcp-inspect auth clear --all`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize in one go (quick mode)",
	Long: `Discover, register, open the authorization URL in the browser and wait
for the redirect on the loopback callback server, then exchange the code.`,
	RunE: runAuthLogin,
}

var authGuidedCmd = &cobra.Command{
	Use:   "guided",
	Short: "Step through the flow interactively",
	RunE:  runAuthGuided,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Redeem the stored refresh token",
	RunE:  runAuthRefresh,
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored client, tokens and metadata",
	RunE:  runAuthClear,
}

func init() {
	authCmd.PersistentFlags().StringVarP(&authServer, "server", "s", "", "MCP server URL or configured server name")

	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", 0, "How long to wait for the redirect (default from config, 5m)")
	authClearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every stored server")

	authCmd.AddCommand(authLoginCmd, authGuidedCmd, authRefreshCmd, authClearCmd)
	authCmd.AddCommand(newAuthStatusCmd(), newAuthUserInfoCmd(), newAuthIDTokenCmd())
	rootCmd.AddCommand(authCmd)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

type redirectOutcome struct {
	res *oauth.RedirectResult
	err error
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	sess, store, err := newSession(authServer)
	if err != nil {
		return err
	}
	defer store.Close()

	timeout := loginTimeout
	if timeout <= 0 {
		timeout = cfg.Callback.Timeout
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	outcomes := make(chan redirectOutcome, 1)
	srv, err := sess.Listen(func(res *oauth.RedirectResult, err error) {
		outcomes <- redirectOutcome{res, err}
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.StopListening(context.Background()) }()
	logger.InfoVerbose("Redirect URL: %s", srv.RedirectURL())

	authURL, err := sess.Machine.Authenticate(ctx)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), agent.RenderState(sess.Machine.State()))
		return err
	}

	out := cmd.OutOrStdout()
	if loginNoBrowser {
		fmt.Fprintf(out, "Open this URL to authorize:\n\n  %s\n\n", authURL)
	} else if err := browser.Open(authURL); err != nil {
		logger.Warning("Could not open browser: %v", err)
		fmt.Fprintf(out, "Open this URL to authorize:\n\n  %s\n\n", authURL)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Waiting for the authorization redirect..."
	s.Start()

	select {
	case o := <-outcomes:
		s.Stop()
		if o.err != nil {
			fmt.Fprint(cmd.ErrOrStderr(), agent.RenderState(sess.Machine.State()))
			return o.err
		}
		logger.Success("Authorized with %s", sess.Machine.ServerURL())
		fmt.Fprint(out, agent.RenderTokens(sess.Machine.ServerURL(), o.res.Tokens))
		return nil
	case <-ctx.Done():
		s.Stop()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s waiting for the authorization redirect", timeout)
		}
		return ctx.Err()
	}
}

func runAuthGuided(cmd *cobra.Command, args []string) error {
	sess, store, err := newSession(authServer)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := agent.NewREPL(sess, logger).Run(ctx); err != nil {
		return fmt.Errorf("REPL error: %w", err)
	}
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	sess, store, err := newSession(authServer)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := sess.Machine.RefreshTokens(cmd.Context())
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	logger.Success("Refreshed tokens for %s", sess.Machine.ServerURL())
	fmt.Fprint(cmd.OutOrStdout(), agent.RenderTokens(sess.Machine.ServerURL(), tokens))
	return nil
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	if clearAll == (authServer != "") {
		return errors.New("pass either --server or --all")
	}

	if !clearAll {
		sess, store, err := newSession(authServer)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := sess.Machine.Clear(); err != nil {
			return err
		}
		logger.Success("Cleared stored state for %s", sess.Machine.ServerURL())
		return nil
	}

	store, err := openFileStore()
	if err != nil {
		return err
	}
	defer store.Close()
	servers, err := store.Servers()
	if err != nil {
		return err
	}
	for _, u := range servers {
		if err := store.Clear(u); err != nil {
			return fmt.Errorf("failed to clear %s: %w", u, err)
		}
	}
	logger.Success("Cleared stored state for %d server(s)", len(servers))
	return nil
}
