package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/giantswarm/mcp-inspect/internal/callback"
	"github.com/giantswarm/mcp-inspect/internal/config"
	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

// RedirectHandler receives the outcome of a redirect delivered to a
// session's callback listener.
type RedirectHandler func(*oauth.RedirectResult, error)

// Session is a state machine whose redirect URLs point at CallbackAddr.
type Session struct {
	Machine      *oauth.StateMachine
	CallbackAddr string

	logger *logging.Logger

	mu       sync.Mutex
	listener *callback.Server
}

// NewSession binds an existing machine to a loopback callback address. An
// empty addr means the session cannot listen for redirects itself.
func NewSession(m *oauth.StateMachine, addr string, logger *logging.Logger) *Session {
	return &Session{Machine: m, CallbackAddr: addr, logger: logger}
}

// Listen starts a one-shot callback server on CallbackAddr. The redirect it
// receives is handed to the machine and the outcome reported to onRedirect.
// A listener still waiting from an earlier call is replaced.
func (s *Session) Listen(onRedirect RedirectHandler) (*callback.Server, error) {
	if s.CallbackAddr == "" {
		return nil, errors.New("session has no callback address")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Stop(context.Background())
	}

	srv := callback.NewServer(callback.Options{
		Addr:   s.CallbackAddr,
		Logger: s.logger,
		OnRedirect: func(r callback.Result) {
			res, err := s.Machine.HandleRedirect(context.Background(), r.Redirect())
			if onRedirect != nil {
				onRedirect(res, err)
			}
		},
	})
	if _, err := srv.Start(); err != nil {
		return nil, err
	}
	s.listener = srv
	return srv, nil
}

// StopListening stops a running callback server, if any.
func (s *Session) StopListening(ctx context.Context) error {
	s.mu.Lock()
	srv := s.listener
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop(ctx)
}

// SessionFactory builds the session for a server name or URL.
type SessionFactory func(server string) (*Session, error)

// NewSessionFactory resolves servers against cfg. Sessions share store. When
// no callback port is configured each session reserves its own ephemeral
// port, which means a dynamically registered client is registered again for
// every new port.
func NewSessionFactory(cfg config.Config, store oauth.Storage, logger *logging.Logger, opts ...oauth.Option) SessionFactory {
	return func(server string) (*Session, error) {
		oc := cfg.Resolve(server)

		addr := cfg.Callback.Addr()
		if cfg.Callback.Port == 0 {
			var err error
			if addr, err = callback.FreeAddr(cfg.Callback.Host); err != nil {
				return nil, err
			}
		}
		oc.RedirectURL = "http://" + addr + callback.Path
		if err := oc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration for %s: %w", server, err)
		}

		machineOpts := append([]oauth.Option{oauth.WithLogger(logger)}, opts...)
		m, err := oauth.NewStateMachine(oc.StateMachine(), store, machineOpts...)
		if err != nil {
			return nil, err
		}
		return NewSession(m, addr, logger), nil
	}
}

// Sessions caches one session per server argument.
type Sessions struct {
	build SessionFactory

	mu       sync.Mutex
	byServer map[string]*Session
}

// NewSessions returns an empty cache backed by build.
func NewSessions(build SessionFactory) *Sessions {
	return &Sessions{build: build, byServer: make(map[string]*Session)}
}

// Get returns the cached session for server, building it on first use.
func (s *Sessions) Get(server string) (*Session, error) {
	if server == "" {
		return nil, errors.New("server is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byServer[server]; ok {
		return sess, nil
	}
	sess, err := s.build(server)
	if err != nil {
		return nil, err
	}
	s.byServer[server] = sess
	return sess, nil
}

// Close stops every session's callback listener.
func (s *Sessions) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, sess := range s.byServer {
		if err := sess.StopListening(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
