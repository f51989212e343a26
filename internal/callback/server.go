// Package callback implements the one-shot loopback server that receives the
// authorization redirect from the browser.
package callback

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

const (
	// DefaultAddr binds an ephemeral loopback port.
	DefaultAddr = "127.0.0.1:0"

	// Path receives normal-mode redirects.
	Path = "/oauth/callback"
	// GuidedPath receives guided-mode redirects.
	GuidedPath = Path + oauth.GuidedPathSuffix

	shutdownTimeout = 5 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Result is an accepted redirect. Code is empty for error redirects.
type Result struct {
	Code   string
	State  string
	Path   string
	Mode   oauth.AuthType
	Params oauth.CallbackParams
}

// Redirect converts the result into the state machine's redirect input.
func (r Result) Redirect() oauth.RedirectRequest {
	return oauth.RedirectRequest{Path: r.Path, Params: r.Params}
}

// Options configures a Server. The handlers are called from the request
// goroutine before the response is written. OnRedirect sees every accepted
// redirect, error redirects included; OnCallback and OnError split them.
type Options struct {
	Addr       string
	OnRedirect func(Result)
	OnCallback func(Result)
	OnError    func(error)
	Logger     *logging.Logger
}

type phase int

const (
	phaseAwaiting phase = iota
	phaseHandled
)

// Server accepts exactly one redirect on either callback path and then shuts
// itself down.
type Server struct {
	opts Options

	mu       sync.Mutex
	phase    phase
	listener net.Listener
	srv      *http.Server
	baseURL  string

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// NewServer returns a server that has not started listening yet.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	return &Server{opts: opts, done: make(chan struct{})}
}

// Start binds the listener and serves in the background. It returns the base
// URL, e.g. http://127.0.0.1:53121.
func (s *Server) Start() (string, error) {
	if err := checkLoopback(s.opts.Addr); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return "", errors.New("callback server already started")
	}
	select {
	case <-s.done:
		return "", errors.New("callback server already stopped")
	default:
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.baseURL = "http://" + ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Error("Callback server error: %v", err)
			s.stopAsync()
		}
	}()

	s.opts.Logger.InfoVerbose("Callback server listening on %s", s.baseURL)
	return s.baseURL, nil
}

// FreeAddr reserves an ephemeral port on a loopback host and releases it, so
// redirect URLs can be fixed before the server starts. Another process may
// grab the port in between; Start reports that as a bind error.
func FreeAddr(host string) (string, error) {
	addr := net.JoinHostPort(host, "0")
	if err := checkLoopback(addr); err != nil {
		return "", err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to reserve a callback port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid callback address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("callback address %q is not a loopback address", addr)
}

// BaseURL returns the URL the server listens on, or "" before Start.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// RedirectURL returns the normal-mode redirect URI.
func (s *Server) RedirectURL() string { return s.BaseURL() + Path }

// GuidedRedirectURL returns the guided-mode redirect URI.
func (s *Server) GuidedRedirectURL() string { return s.BaseURL() + GuidedPath }

// Done is closed once the server has stopped.
func (s *Server) Done() <-chan struct{} { return s.done }

// Stop shuts the server down. Calling it again returns the first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv, ln := s.srv, s.listener
		s.mu.Unlock()

		if srv != nil {
			s.stopErr = srv.Shutdown(ctx)
		}
		// Shutdown only closes listeners Serve has already registered; the
		// serving goroutine may not have run yet.
		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && s.stopErr == nil {
				s.stopErr = err
			}
		}
		close(s.done)
		s.opts.Logger.InfoVerbose("Callback server stopped")
	})
	return s.stopErr
}

func (s *Server) stopAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Stop(ctx)
	}()
}

// ServeHTTP handles one redirect. It is exported so the handler can be
// mounted without Start, e.g. under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w.Header())

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.RequestURI != "" {
		if _, err := url.ParseRequestURI(r.RequestURI); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path != Path && path != GuidedPath {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	if s.phase == phaseHandled {
		s.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusConflict)
		return
	}
	s.phase = phaseHandled
	s.mu.Unlock()

	defer s.stopAsync()

	params := oauth.ParseCallbackParams(r.URL.RawQuery)
	mode := oauth.ModeForCallbackPath(path)
	s.opts.Logger.Audit("callback_received", "path", path, "mode", string(mode), "successful", params.Successful)

	res := Result{
		Code:   params.Code,
		State:  params.State,
		Path:   path,
		Mode:   mode,
		Params: params,
	}
	if s.opts.OnRedirect != nil {
		s.opts.OnRedirect(res)
	}

	if !params.Successful {
		if s.opts.OnError != nil {
			s.opts.OnError(params.Err())
		}
		render(w, http.StatusBadRequest, "error.html", struct{ Message string }{params.Message()})
		return
	}

	if s.opts.OnCallback != nil {
		s.opts.OnCallback(res)
	}
	render(w, http.StatusOK, "success.html", struct{ Guided bool }{mode == oauth.AuthTypeGuided})
}

func setSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
}

func render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}
