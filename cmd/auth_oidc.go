package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/agent"
)

func newAuthUserInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "userinfo",
		Short: "Call the OIDC UserInfo endpoint with the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, store, err := newSession(authServer)
			if err != nil {
				return err
			}
			defer store.Close()

			claims, err := sess.Machine.FetchUserInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), agent.PrettyJSON(claims))
			return nil
		},
	}
}

func newAuthIDTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id-token",
		Short: "Decode and check the stored ID token's claims",
		Long: `Decode the stored ID token and check its issuer, audience and expiry.

The signature is NOT verified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, store, err := newSession(authServer)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := sess.Machine.ValidateIDToken(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Valid {
				fmt.Fprintf(out, "  Status:    %s\n", text.FgGreen.Sprint("Claims valid"))
			} else {
				fmt.Fprintf(out, "  Status:    %s\n", text.FgRed.Sprint("Claims invalid"))
				fmt.Fprintf(out, "  Problems:  %s\n", strings.Join(res.Errors, "; "))
			}
			fmt.Fprintf(out, "  Warning:   %s\n\n", text.FgYellow.Sprint(res.Warning))
			fmt.Fprintln(out, agent.PrettyJSON(res.Claims))
			return nil
		},
	}
}
