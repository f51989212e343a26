package agent

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

// FlowView is the tool-facing view of a server's OAuth state. Secrets are
// redacted.
type FlowView struct {
	ServerURL     string                `json:"serverUrl"`
	Authenticated bool                  `json:"authenticated"`
	Tokens        *oauth.Tokens         `json:"tokens,omitempty"`
	Flow          oauth.AuthGuidedState `json:"flow"`
}

// NewFlowView snapshots m with every token and code redacted.
func NewFlowView(m *oauth.StateMachine) (FlowView, error) {
	tokens, err := m.Tokens()
	if err != nil {
		return FlowView{}, err
	}
	return FlowView{
		ServerURL:     m.ServerURL(),
		Authenticated: tokens != nil,
		Tokens:        RedactTokens(tokens),
		Flow:          RedactState(m.State()),
	}, nil
}

// quickStartResult is returned by auth_quick_start.
type quickStartResult struct {
	AuthorizationURL string `json:"authorizationUrl"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	Listening        bool   `json:"listening"`
}

func (m *MCPServer) session(request mcp.CallToolRequest) (*Session, *mcp.CallToolResult) {
	server, err := request.RequireString("server")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	sess, err := m.sessions.Get(server)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to prepare %s: %v", server, err))
	}
	return sess, nil
}

// viewResult renders the flow view; a step error turns it into an error
// result that still carries the state.
func viewResult(sess *Session, stepErr error) (*mcp.CallToolResult, error) {
	view, err := NewFlowView(sess.Machine)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stored state: %v", err)), nil
	}
	if stepErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%v\n\n%s", stepErr, PrettyJSON(view))), nil
	}
	return mcp.NewToolResultJSON(view)
}

func (m *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	return viewResult(sess, nil)
}

func (m *MCPServer) handleQuickStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}

	authURL, err := sess.Machine.Authenticate(ctx)
	if err != nil {
		return viewResult(sess, err)
	}

	result := quickStartResult{AuthorizationURL: authURL}
	if request.GetBool("listen", true) && sess.CallbackAddr != "" {
		srv, err := sess.Listen(func(res *oauth.RedirectResult, err error) {
			if err != nil {
				m.logger.Error("Redirect for %s rejected: %v", sess.Machine.ServerURL(), err)
				return
			}
			m.logger.Success("Authorization for %s completed: %t", sess.Machine.ServerURL(), res.Completed)
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to start callback listener: %v", err)), nil
		}
		result.RedirectURL = srv.RedirectURL()
		result.Listening = true
	}

	if request.GetBool("open_browser", false) && m.openURL != nil {
		if err := m.openURL(authURL); err != nil {
			m.logger.Warning("Could not open browser: %v", err)
		}
	}
	return mcp.NewToolResultJSON(result)
}

func (m *MCPServer) handleQuickComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}

	code := request.GetString("code", "")
	redirect := request.GetString("redirect_url", "")
	switch {
	case redirect != "":
		u, err := url.Parse(redirect)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid redirect_url: %v", err)), nil
		}
		_, err = sess.Machine.HandleRedirect(ctx, oauth.RedirectRequest{
			Path:   u.Path,
			Params: oauth.CallbackParamsFromValues(u.Query()),
		})
		return viewResult(sess, err)
	case code != "":
		_, err := sess.Machine.CompleteOAuthFlow(ctx, code)
		return viewResult(sess, err)
	default:
		return mcp.NewToolResultError("either code or redirect_url is required"), nil
	}
}

func (m *MCPServer) handleGuidedStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	sess.Machine.StartGuided()
	return viewResult(sess, nil)
}

func (m *MCPServer) handleGuidedNext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	return viewResult(sess, sess.Machine.ProceedToNextStep(ctx))
}

func (m *MCPServer) handleGuidedRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	return viewResult(sess, sess.Machine.RunGuidedToCompletion(ctx))
}

func (m *MCPServer) handleGuidedSetCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return viewResult(sess, sess.Machine.SetGuidedAuthorizationCode(ctx, code, request.GetBool("auto_advance", false)))
}

func (m *MCPServer) handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := m.session(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := sess.StopListening(ctx); err != nil {
		m.logger.Warning("Failed to stop callback listener: %v", err)
	}
	if err := sess.Machine.Clear(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear %s: %v", sess.Machine.ServerURL(), err)), nil
	}
	return viewResult(sess, nil)
}
