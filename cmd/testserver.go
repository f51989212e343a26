package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/testserver"
)

var (
	testServerAddr   string
	testServerNoDCR  bool
	testServerScopes []string
)

func newTestOAuthServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-oauth-server",
		Short: "Run a dummy OAuth authorization server",
		Long: `Run a dummy authorization server and protected MCP endpoint for trying
the flows without a real identity provider.

Every authorization request is approved immediately with code ` + testserver.AuthorizationCode + `.
Statically configured clients use
  client_id:     ` + testserver.ClientID + `
  client_secret: ` + testserver.ClientSecret,
		RunE: runTestOAuthServer,
	}
	cmd.Flags().StringVar(&testServerAddr, "addr", "127.0.0.1:8081", "Listen address")
	cmd.Flags().BoolVar(&testServerNoDCR, "no-dcr", false, "Disable dynamic client registration")
	cmd.Flags().StringSliceVar(&testServerScopes, "resource-scopes", nil, "scopes_supported published in the protected resource metadata")
	return cmd
}

func init() {
	rootCmd.AddCommand(newTestOAuthServerCmd())
}

func runTestOAuthServer(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", testServerAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", testServerAddr, err)
	}

	srv := &http.Server{
		Handler: testserver.New(testserver.Options{
			DisableRegistration: testServerNoDCR,
			ResourceScopes:      testServerScopes,
			Logger:              logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("Test authorization server listening on http://%s", ln.Addr())
	logger.Info("MCP endpoint: http://%s%s", ln.Addr(), testserver.PathMCP)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
