package agent

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

const maxDetailWidth = 72

// Step status markers shown in the first column.
const (
	markDone    = "✓"
	markCurrent = "→"
	markFailed  = "✗"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderState draws the flow as one row per step, followed by the latest
// error or validation message.
func RenderState(st oauth.AuthGuidedState) string {
	t := newTable()
	t.SetTitle("%s flow %s", st.AuthType, shortID(st.AuthID))
	t.AppendHeader(table.Row{"", text.FgHiCyan.Sprint("STEP"), text.FgHiCyan.Sprint("DETAIL")})

	current := st.OAuthStep.Index()
	for i, step := range oauth.Steps() {
		var mark string
		switch {
		case st.LatestError != "" && st.LatestErrorStep == step:
			mark = text.FgRed.Sprint(markFailed)
		case step == oauth.StepComplete && st.OAuthStep == oauth.StepComplete:
			mark = text.FgGreen.Sprint(markDone)
		case i < current:
			mark = text.FgGreen.Sprint(markDone)
		case i == current:
			mark = text.FgYellow.Sprint(markCurrent)
		}
		t.AppendRow(table.Row{mark, string(step), truncate(stepDetail(st, step), maxDetailWidth)})
	}

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")
	if st.LatestError != "" {
		fmt.Fprintf(&b, "%s %s\n", text.FgRed.Sprintf("Error at %s:", st.LatestErrorStep), st.LatestError)
	}
	if st.ValidationError != "" {
		fmt.Fprintf(&b, "%s %s\n", text.FgYellow.Sprint("Validation:"), st.ValidationError)
	}
	if st.ResourceMetadataError != "" {
		fmt.Fprintf(&b, "%s %s\n", text.FgHiBlack.Sprint("Resource metadata:"), st.ResourceMetadataError)
	}
	return b.String()
}

func stepDetail(st oauth.AuthGuidedState, step oauth.OAuthStep) string {
	switch step {
	case oauth.StepMetadataDiscovery:
		if st.AuthServerURL == "" {
			return ""
		}
		if st.ResourceURL != "" {
			return fmt.Sprintf("%s (resource %s)", st.AuthServerURL, st.ResourceURL)
		}
		return st.AuthServerURL
	case oauth.StepClientRegistration:
		if st.OAuthClientInfo == nil {
			return ""
		}
		return "client " + st.OAuthClientInfo.ClientID
	case oauth.StepAuthorizationRedirect:
		if st.AuthorizationURL == "" {
			return ""
		}
		if st.Scope != "" {
			return fmt.Sprintf("scope %q", st.Scope)
		}
		return "authorization URL ready"
	case oauth.StepAuthorizationCode:
		if st.AuthorizationCode != "" {
			return "code received"
		}
		if st.AuthorizationURL != "" {
			return "waiting for the redirect"
		}
	case oauth.StepComplete:
		if st.OAuthTokens != nil {
			return tokenSummary(st.OAuthTokens)
		}
	}
	return ""
}

// RenderTokens draws the stored token status for a server. Token values are
// never printed.
func RenderTokens(serverURL string, tokens *oauth.Tokens) string {
	t := newTable()
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Server"), serverURL})
	if tokens == nil {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Status"), text.FgYellow.Sprint("Not authenticated")})
		return t.Render() + "\n"
	}

	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Status"), text.FgGreen.Sprint("Authenticated")})
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Token type"), tokens.TokenType})
	if tokens.ExpiresIn > 0 {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Expires in"), fmt.Sprintf("%ds (at issue)", tokens.ExpiresIn)})
	}
	if tokens.Scope != "" {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Scope"), tokens.Scope})
	}
	refresh := text.FgYellow.Sprint("Not available (re-auth required on expiry)")
	if tokens.RefreshToken != "" {
		refresh = text.FgGreen.Sprint("Available")
	}
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Refresh"), refresh})
	if tokens.IDToken != "" {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("ID token"), "present"})
	}
	return t.Render() + "\n"
}

func tokenSummary(tokens *oauth.Tokens) string {
	parts := []string{tokens.TokenType + " token"}
	if tokens.ExpiresIn > 0 {
		parts = append(parts, fmt.Sprintf("expires in %ds", tokens.ExpiresIn))
	}
	if tokens.RefreshToken != "" {
		parts = append(parts, "refreshable")
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

const redacted = "[redacted]"

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}

// RedactTokens returns a copy of tokens with every credential masked.
func RedactTokens(tokens *oauth.Tokens) *oauth.Tokens {
	if tokens == nil {
		return nil
	}
	c := *tokens
	c.AccessToken = mask(c.AccessToken)
	c.RefreshToken = mask(c.RefreshToken)
	c.IDToken = mask(c.IDToken)
	return &c
}

// RedactState returns st with tokens, the authorization code and the client
// secret masked. Nested values are copied before masking.
func RedactState(st oauth.AuthGuidedState) oauth.AuthGuidedState {
	st.OAuthTokens = RedactTokens(st.OAuthTokens)
	st.AuthorizationCode = mask(st.AuthorizationCode)
	if st.OAuthClientInfo != nil && st.OAuthClientInfo.ClientSecret != "" {
		info := *st.OAuthClientInfo
		info.ClientSecret = redacted
		st.OAuthClientInfo = &info
	}
	return st
}
