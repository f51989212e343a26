package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-inspect/internal/browser"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
	"github.com/giantswarm/mcp-inspect/internal/web"
)

var (
	webServer string
	webListen string
	webOpen   bool
)

func newWebCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the flow to a browser",
		Long: `Serve a small browser surface for one MCP server. The authorization
server redirects back to this listener, so --listen must be a loopback
address and the redirect URLs are http://<listen>/oauth/callback[/guided].`,
		RunE: runWeb,
	}
	cmd.Flags().StringVarP(&webServer, "server", "s", "", "MCP server URL or configured server name")
	cmd.Flags().StringVar(&webListen, "listen", "127.0.0.1:6274", "Listen address")
	cmd.Flags().BoolVar(&webOpen, "open", false, "Open the page in the browser")
	return cmd
}

func init() {
	rootCmd.AddCommand(newWebCmd())
}

func runWeb(cmd *cobra.Command, args []string) error {
	if webServer == "" {
		return errors.New("--server is required")
	}

	ln, err := net.Listen("tcp", webListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", webListen, err)
	}
	base := "http://" + ln.Addr().String()

	oc := cfg.Resolve(webServer)
	oc.RedirectURL = base + web.CallbackPath
	if err := oc.Validate(); err != nil {
		_ = ln.Close()
		return fmt.Errorf("invalid configuration for %s: %w", webServer, err)
	}

	store, err := openFileStore()
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer store.Close()

	machine, err := oauth.NewStateMachine(oc.StateMachine(), store, oauth.WithLogger(logger))
	if err != nil {
		_ = ln.Close()
		return err
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := web.NewServer(machine, logger)

	sigCtx, cancel := signalContext(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	g.Go(func() error {
		logger.Info("Serving %s on %s", machine.ServerURL(), base)
		if webOpen {
			if err := browser.Open(base); err != nil {
				logger.Warning("Could not open browser: %v", err)
			}
		}
		<-ctx.Done()
		logger.Info("Shutting down...")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
