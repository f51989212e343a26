// Package web serves the browser surface of a single OAuth flow: the callback
// routes the authorization server redirects to, and a small JSON API that
// drives the quick and guided flows.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

const (
	// CallbackPath and GuidedCallbackPath must match the redirect URLs the
	// state machine was configured with.
	CallbackPath       = "/oauth/callback"
	GuidedCallbackPath = CallbackPath + oauth.GuidedPathSuffix

	shutdownTimeout = 5 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

// Server routes one StateMachine. It is safe for concurrent requests; the
// machine serialises its own operations.
type Server struct {
	machine *oauth.StateMachine
	logger  *logging.Logger
	engine  *gin.Engine
}

// NewServer builds the gin engine. Call gin.SetMode before this to pick the
// engine mode.
func NewServer(m *oauth.StateMachine, logger *logging.Logger) *Server {
	s := &Server{machine: m, logger: logger}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	engine.GET("/", s.index)
	engine.GET(CallbackPath, securityHeaders, s.callback)
	engine.GET(GuidedCallbackPath, securityHeaders, s.callback)

	api := engine.Group("/api")
	api.GET("/state", s.getState)
	api.DELETE("/state", s.clearState)
	api.POST("/quick", s.quick)

	guided := api.Group("/guided")
	guided.POST("/start", s.guidedStart)
	guided.POST("/next", s.guidedNext)
	guided.POST("/run", s.guidedRun)
	guided.POST("/code", s.guidedCode)

	s.engine = engine
	return s
}

// Handler returns the routes for mounting elsewhere, e.g. under httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("Web surface listening on http://%s", ln.Addr())
	return s.Serve(ctx, ln)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.InfoVerbose("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func securityHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	c.Next()
}
