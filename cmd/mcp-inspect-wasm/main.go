//go:build js && wasm

// Command mcp-inspect-wasm runs the OAuth state machine inside a browser page.
//
// It registers a global mcpInspectAuth object whose functions return Promises:
//
//	authenticate(serverUrl, {clientId, clientSecret, scope}) -> authorization URL
//	completeOAuthFlow(query?)                                -> flow view
//	state(serverUrl?)                                        -> flow view
//	clear(serverUrl?)                                        -> undefined
//
// All OAuth state lives in window.sessionStorage, so the flow survives the
// navigation to the authorization server and back.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall/js"

	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
	"github.com/giantswarm/mcp-inspect/internal/storage"
)

const (
	callbackPath = "/oauth/callback"

	// Keys the host itself keeps next to the per-server OAuth state.
	keyServerURL    = "mcp_inspect_server_url"
	keyPendingState = "mcp_inspect_pending_state"
)

// flowView is what state and completeOAuthFlow resolve to. The page owns the
// tokens, so nothing is redacted.
type flowView struct {
	ServerURL     string                `json:"serverUrl"`
	Authenticated bool                  `json:"authenticated"`
	Tokens        *oauth.Tokens         `json:"tokens,omitempty"`
	Flow          oauth.AuthGuidedState `json:"flow"`
}

type host struct {
	kv     *storage.WebStorage
	store  *storage.BrowserStore
	logger *logging.Logger
	origin string

	mu       sync.Mutex
	machines map[string]*oauth.StateMachine
}

func main() {
	kv, err := storage.SessionStorage()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.NewLoggerWithWriter(false, false, false, os.Stdout)
	h := &host{
		kv:       kv,
		store:    storage.NewBrowserStore(kv, logger),
		logger:   logger,
		origin:   js.Global().Get("location").Get("origin").String(),
		machines: make(map[string]*oauth.StateMachine),
	}

	api := js.Global().Get("Object").New()
	api.Set("authenticate", promiseFunc(h.authenticate))
	api.Set("completeOAuthFlow", promiseFunc(h.completeOAuthFlow))
	api.Set("state", promiseFunc(h.state))
	api.Set("clear", promiseFunc(h.clear))
	js.Global().Set("mcpInspectAuth", api)

	logger.Info("mcpInspectAuth ready")
	select {}
}

// promiseFunc wraps fn as a JS function returning a Promise. fn runs on its
// own goroutine since it may block on fetch.
func promiseFunc(fn func(ctx context.Context, args []js.Value) (interface{}, error)) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var executor js.Func
		executor = js.FuncOf(func(this js.Value, p []js.Value) interface{} {
			resolve, reject := p[0], p[1]
			go func() {
				defer executor.Release()
				v, err := fn(context.Background(), args)
				if err != nil {
					reject.Invoke(js.Global().Get("Error").New(err.Error()))
					return
				}
				resolve.Invoke(v)
			}()
			return nil
		})
		return js.Global().Get("Promise").New(executor)
	})
}

func toJS(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return js.Global().Get("JSON").Call("parse", string(data)), nil
}

func stringArg(args []js.Value, i int) string {
	if len(args) <= i || args[i].Type() != js.TypeString {
		return ""
	}
	return args[i].String()
}

func optionString(opts js.Value, name string) string {
	if opts.Type() != js.TypeObject {
		return ""
	}
	v := opts.Get(name)
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

// serverURL returns the explicit argument or the server of the last
// authenticate call.
func (h *host) serverURL(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	u, ok, err := h.kv.GetItem(keyServerURL)
	if err != nil {
		return "", err
	}
	if !ok || u == "" {
		return "", errors.New("no server URL given and no flow in progress")
	}
	return u, nil
}

func (h *host) machine(serverURL string, cfg oauth.Config) (*oauth.StateMachine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Calls without options keep the machine and its in-memory flow.
	if m, ok := h.machines[serverURL]; ok && cfg == (oauth.Config{}) {
		return m, nil
	}

	cfg.ServerURL = serverURL
	cfg.RedirectURL = h.origin + callbackPath
	cfg.GuidedRedirectURL = h.origin + callbackPath + oauth.GuidedPathSuffix
	if cfg.ClientName == "" {
		cfg.ClientName = oauth.DefaultClientName
	}
	m, err := oauth.NewStateMachine(cfg, h.store, oauth.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	h.machines[serverURL] = m
	return m, nil
}

func (h *host) view(m *oauth.StateMachine) (interface{}, error) {
	tokens, err := m.Tokens()
	if err != nil {
		return nil, err
	}
	return toJS(flowView{
		ServerURL:     m.ServerURL(),
		Authenticated: tokens != nil,
		Tokens:        tokens,
		Flow:          m.State(),
	})
}

func (h *host) authenticate(ctx context.Context, args []js.Value) (interface{}, error) {
	serverURL := stringArg(args, 0)
	if serverURL == "" {
		return nil, errors.New("authenticate: serverUrl is required")
	}
	var opts js.Value
	if len(args) > 1 {
		opts = args[1]
	}
	m, err := h.machine(serverURL, oauth.Config{
		ClientID:     optionString(opts, "clientId"),
		ClientSecret: optionString(opts, "clientSecret"),
		Scope:        optionString(opts, "scope"),
	})
	if err != nil {
		return nil, err
	}

	authURL, err := m.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.kv.SetItem(keyServerURL, serverURL); err != nil {
		return nil, err
	}
	if err := h.kv.SetItem(keyPendingState, m.State().State); err != nil {
		return nil, err
	}
	return authURL, nil
}

// completeOAuthFlow handles the redirect the page was loaded with, or the
// query string passed as the first argument.
func (h *host) completeOAuthFlow(ctx context.Context, args []js.Value) (interface{}, error) {
	location := js.Global().Get("location")
	query := stringArg(args, 0)
	if query == "" {
		query = location.Get("search").String()
	}
	params := oauth.ParseCallbackParams(query)

	serverURL, err := h.serverURL("")
	if err != nil {
		return nil, err
	}

	// The in-memory flow did not survive the navigation, so the state is
	// checked against the copy kept in sessionStorage.
	pending, ok, err := h.kv.GetItem(keyPendingState)
	if err != nil {
		return nil, err
	}
	if ok && pending != "" && params.State != pending {
		return nil, oauth.ErrStateMismatch
	}

	m, err := h.machine(serverURL, oauth.Config{})
	if err != nil {
		return nil, err
	}
	if _, err := m.HandleRedirect(ctx, oauth.RedirectRequest{
		Path:   location.Get("pathname").String(),
		Params: params,
	}); err != nil {
		return nil, err
	}
	if err := h.kv.RemoveItem(keyPendingState); err != nil {
		return nil, err
	}
	return h.view(m)
}

func (h *host) state(ctx context.Context, args []js.Value) (interface{}, error) {
	serverURL, err := h.serverURL(stringArg(args, 0))
	if err != nil {
		return nil, err
	}
	m, err := h.machine(serverURL, oauth.Config{})
	if err != nil {
		return nil, err
	}
	return h.view(m)
}

func (h *host) clear(ctx context.Context, args []js.Value) (interface{}, error) {
	serverURL, err := h.serverURL(stringArg(args, 0))
	if err != nil {
		return nil, err
	}
	m, err := h.machine(serverURL, oauth.Config{})
	if err != nil {
		return nil, err
	}
	if err := m.Clear(); err != nil {
		return nil, err
	}
	for _, k := range []string{keyServerURL, keyPendingState} {
		if err := h.kv.RemoveItem(k); err != nil {
			return nil, err
		}
	}
	return js.Undefined(), nil
}
