package oauth

import (
	"context"
	"errors"
	"strings"
)

// GuidedPathSuffix marks a callback path as belonging to a guided flow.
const GuidedPathSuffix = "/guided"

// ModeForCallbackPath derives the flow mode from a callback path. An empty
// path carries no signal and yields "".
func ModeForCallbackPath(path string) AuthType {
	if path == "" {
		return ""
	}
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), GuidedPathSuffix) {
		return AuthTypeGuided
	}
	return AuthTypeNormal
}

// RedirectRequest is an authorization redirect as received by a callback
// endpoint.
type RedirectRequest struct {
	Path   string
	Params CallbackParams
}

// RedirectResult tells the surface what HandleRedirect did.
type RedirectResult struct {
	Mode      AuthType
	Completed bool
	Tokens    *Tokens
}

// ResolveRedirectMode combines the two routing signals: the state prefix and
// the callback path. Either may be absent; when both are present they must
// agree.
func ResolveRedirectMode(path, state string) (AuthType, error) {
	pathMode := ModeForCallbackPath(path)

	var stateMode AuthType
	if state != "" {
		parsed, err := ParseOAuthState(state)
		if err != nil {
			return "", err
		}
		stateMode = parsed.Mode
	}

	switch {
	case stateMode != "" && pathMode != "" && stateMode != pathMode:
		return "", ErrRedirectModeConflict
	case stateMode != "":
		return stateMode, nil
	case pathMode != "":
		return pathMode, nil
	default:
		return AuthTypeNormal, nil
	}
}

// HandleRedirect routes a redirect to the flow. Normal-mode redirects complete
// the flow; guided-mode redirects only store the code so the next step can be
// taken by hand. Error redirects are recorded against the current step.
func (m *StateMachine) HandleRedirect(ctx context.Context, req RedirectRequest) (*RedirectResult, error) {
	result := &RedirectResult{}
	err := m.run(func() error {
		mode, err := ResolveRedirectMode(req.Path, req.Params.State)
		if err != nil {
			return m.recordRedirectError(err)
		}
		result.Mode = mode

		if m.state.State != "" && req.Params.State != m.state.State {
			return m.recordRedirectError(ErrStateMismatch)
		}
		if m.state.State == "" {
			m.logger.Warning("No pending flow in memory; the state parameter cannot be checked")
		}

		if !req.Params.Successful {
			return m.recordRedirectError(req.Params.Err())
		}
		m.logger.Audit("callback_received", "server", m.cfg.ServerURL, "mode", string(mode))

		if mode == AuthTypeGuided {
			if m.state.OAuthStep == StepMetadataDiscovery && m.state.OAuthMetadata == nil {
				if err := m.resume(AuthTypeGuided); err != nil {
					return err
				}
			}
			return m.setCode(ctx, req.Params.Code, false)
		}

		tokens, err := m.complete(ctx, req.Params.Code)
		if err != nil {
			return err
		}
		result.Completed = true
		result.Tokens = tokens
		return nil
	})
	return result, err
}

func (m *StateMachine) recordRedirectError(err error) error {
	m.state.LatestError = err.Error()
	m.state.LatestErrorStep = m.state.OAuthStep
	var denied *AuthorizationDeniedError
	if errors.As(err, &denied) {
		m.logger.Error("Authorization denied: %v", err)
	} else {
		m.logger.Error("Rejected redirect: %v", err)
	}
	return err
}
