package agent

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

const flagNoAdvance = "--no-advance"

func (r *REPL) printState() {
	fmt.Fprint(r.out, RenderState(r.session.Machine.State()))
}

// handleNext runs one step. Step failures are already recorded in the state,
// so they are shown rather than returned.
func (r *REPL) handleNext(ctx context.Context) error {
	before := r.session.Machine.State().OAuthStep
	if before == oauth.StepComplete {
		fmt.Fprintln(r.out, "The flow is complete. Use 'clear' to start over.")
		return nil
	}
	err := r.session.Machine.ProceedToNextStep(ctx)
	r.printState()
	if err == nil && before != oauth.StepAuthorizationCode && r.session.Machine.State().OAuthStep == oauth.StepAuthorizationCode {
		r.hintAuthorization()
	}
	return nil
}

func (r *REPL) handleRun(ctx context.Context) error {
	_ = r.session.Machine.RunGuidedToCompletion(ctx)
	r.printState()
	if st := r.session.Machine.State(); st.OAuthStep == oauth.StepAuthorizationCode && st.AuthorizationCode == "" {
		r.hintAuthorization()
	}
	return nil
}

func (r *REPL) handleCode(ctx context.Context, args []string) error {
	code := ""
	autoAdvance := true
	for _, a := range args {
		if a == flagNoAdvance {
			autoAdvance = false
			continue
		}
		if code != "" {
			return fmt.Errorf("unexpected argument %q", a)
		}
		code = a
	}
	if code == "" {
		return fmt.Errorf("usage: code <authorization-code> [%s]", flagNoAdvance)
	}

	err := r.session.Machine.SetGuidedAuthorizationCode(ctx, code, autoAdvance)
	r.printState()
	return err
}

func (r *REPL) handleURL() error {
	u := r.session.Machine.State().AuthorizationURL
	if u == "" {
		return fmt.Errorf("no authorization URL yet, run 'next' until %s", oauth.StepAuthorizationCode)
	}
	fmt.Fprintln(r.out, u)
	return nil
}

func (r *REPL) handleOpen() error {
	u := r.session.Machine.State().AuthorizationURL
	if u == "" {
		return fmt.Errorf("no authorization URL yet, run 'next' until %s", oauth.StepAuthorizationCode)
	}
	if err := r.openURL(u); err != nil {
		return err
	}
	r.logger.Info("Opened the authorization URL in your browser")
	return nil
}

func (r *REPL) handleListen() error {
	srv, err := r.session.Listen(func(res *oauth.RedirectResult, err error) {
		if r.rl != nil {
			_, _ = r.rl.Stdout().Write([]byte("\r\033[K"))
		}
		if err != nil {
			r.logger.Error("Redirect rejected: %v", err)
		} else {
			r.logger.Success("Redirect received (%s mode)", res.Mode)
		}
		r.printState()
		if r.rl != nil {
			r.rl.Refresh()
		}
	})
	if err != nil {
		return err
	}
	r.logger.Info("Listening for the redirect on %s", srv.GuidedRedirectURL())
	return nil
}

func (r *REPL) handleClear() error {
	if err := r.session.StopListening(context.Background()); err != nil {
		r.logger.Warning("Failed to stop the callback listener: %v", err)
	}
	if err := r.session.Machine.Clear(); err != nil {
		return err
	}
	r.session.Machine.StartGuided()
	r.logger.Success("Cleared stored state for %s", r.session.Machine.ServerURL())
	r.printState()
	return nil
}

func (r *REPL) hintAuthorization() {
	fmt.Fprintln(r.out, "Next: 'open' the authorization URL, 'listen' for the redirect, or paste it with 'code <code>'.")
}
