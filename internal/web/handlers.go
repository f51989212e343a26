package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

type guidedCodeRequest struct {
	Code        string `json:"code" binding:"required"`
	AutoAdvance bool   `json:"autoAdvance"`
}

type callbackPage struct {
	OK        bool
	Guided    bool
	Completed bool
	Message   string
}

// statusFor maps flow errors to a response status. Bad input from the caller
// or the redirect is a 400; everything else failed upstream.
func statusFor(err error) int {
	var validation *oauth.ValidationError
	var denied *oauth.AuthorizationDeniedError
	switch {
	case errors.As(err, &validation), errors.As(err, &denied),
		errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, oauth.ErrStateMismatch),
		errors.Is(err, oauth.ErrRedirectModeConflict),
		errors.Is(err, oauth.ErrMissingAuthorizationCode):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// respond writes the redacted flow view, or the step error alongside it.
func (s *Server) respond(c *gin.Context, stepErr error) {
	view, err := agent.NewFlowView(s.machine)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stored state: " + err.Error()})
		return
	}
	if stepErr != nil {
		c.JSON(statusFor(stepErr), gin.H{"error": stepErr.Error(), "state": view})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"ServerURL": s.machine.ServerURL()})
}

func (s *Server) getState(c *gin.Context) {
	s.respond(c, nil)
}

func (s *Server) clearState(c *gin.Context) {
	if err := s.machine.Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Success("Cleared stored state for %s", s.machine.ServerURL())
	s.respond(c, nil)
}

func (s *Server) quick(c *gin.Context) {
	authURL, err := s.machine.Authenticate(c.Request.Context())
	if err != nil {
		s.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorizationUrl": authURL})
}

func (s *Server) guidedStart(c *gin.Context) {
	s.machine.StartGuided()
	s.respond(c, nil)
}

func (s *Server) guidedNext(c *gin.Context) {
	s.respond(c, s.machine.ProceedToNextStep(c.Request.Context()))
}

func (s *Server) guidedRun(c *gin.Context) {
	s.respond(c, s.machine.RunGuidedToCompletion(c.Request.Context()))
}

func (s *Server) guidedCode(c *gin.Context) {
	var req guidedCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	s.respond(c, s.machine.SetGuidedAuthorizationCode(c.Request.Context(), req.Code, req.AutoAdvance))
}

func (s *Server) callback(c *gin.Context) {
	params := oauth.ParseCallbackParams(c.Request.URL.RawQuery)
	res, err := s.machine.HandleRedirect(c.Request.Context(), oauth.RedirectRequest{
		Path:   c.Request.URL.Path,
		Params: params,
	})
	if err != nil {
		c.HTML(statusFor(err), "callback.html", callbackPage{Message: err.Error()})
		return
	}
	if res.Completed {
		s.logger.Success("Authorization for %s completed", s.machine.ServerURL())
	}
	c.HTML(http.StatusOK, "callback.html", callbackPage{
		OK:        true,
		Guided:    res.Mode == oauth.AuthTypeGuided,
		Completed: res.Completed,
	})
}
