package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"temporary-access/backend/internal/auth"
	"temporary-access/backend/internal/services"
	"temporary-access/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Synth *services.SynthService
}

// NewServer creates a new Server.
func NewServer(synth *services.SynthService) *Server {
	return &Server{Synth: synth}
}

// RegisterHandlers mounts the API routes on g.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/template", s.GetTemplate)
	g.GET("/runbook", s.GetRunbook)
	g.POST("/synth", s.PostSynth)
	g.GET("/revisions", s.ListRevisions)
	g.GET("/revisions/:version", s.GetRevision)
	g.POST("/requests/validate", s.ValidateRequest)
	g.POST("/payloads", s.RenderPayload)
}

// SynthResponse describes a synthesis outcome.
type SynthResponse struct {
	Revision *models.TemplateRevision `json:"revision"`
	Changed  bool                     `json:"changed"`
}

// GetTemplate renders the current template
// (GET /api/v1/template?format=json|yaml)
func (s *Server) GetTemplate(c echo.Context) error {
	res, err := s.Synth.Render()
	if err != nil {
		return httpError(err)
	}
	switch c.QueryParam("format") {
	case "", "json":
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, res.TemplateJSON)
	case "yaml":
		return c.Blob(http.StatusOK, "application/yaml", res.TemplateYAML)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or yaml")
	}
}

// GetRunbook renders the Automation document body
// (GET /api/v1/runbook)
func (s *Server) GetRunbook(c echo.Context) error {
	doc, err := s.Synth.Runbook()
	if err != nil {
		return httpError(err)
	}
	body, err := doc.Render()
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, "application/yaml", body)
}

// PostSynth synthesizes the stack and stores a revision if it changed
// (POST /api/v1/synth)
func (s *Server) PostSynth(c echo.Context) error {
	res, err := s.Synth.Synthesize(c.Request().Context(), requester(c))
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if res.Changed {
		status = http.StatusCreated
	}
	return c.JSON(status, SynthResponse{Revision: res.Revision, Changed: res.Changed})
}

// ListRevisions returns the stored revisions, newest first
// (GET /api/v1/revisions)
func (s *Server) ListRevisions(c echo.Context) error {
	revs, err := s.Synth.Revisions(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if revs == nil {
		revs = []*models.TemplateRevision{}
	}
	return c.JSON(http.StatusOK, revs)
}

// GetRevision returns the template body of one revision
// (GET /api/v1/revisions/:version)
func (s *Server) GetRevision(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
	}
	rev, err := s.Synth.Revision(c.Request().Context(), version)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, rev.Template)
}

// ValidateRequest checks an access request and previews its schedules
// (POST /api/v1/requests/validate)
func (s *Server) ValidateRequest(c echo.Context) error {
	var req models.AccessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	plan, err := s.Synth.ValidateRequest(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// PayloadRequest selects the schedule payload to render.
type PayloadRequest struct {
	AccountID    string        `json:"account_id"`
	UserName     string        `json:"user_name"`
	Action       models.Action `json:"action"`
	SchedulerARN string        `json:"scheduler_arn"`
}

// RenderPayload returns the input a schedule delivers to the function
// (POST /api/v1/payloads)
func (s *Server) RenderPayload(c echo.Context) error {
	var req PayloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	p, err := services.RenderPayload(req.AccountID, req.UserName, req.Action, req.SchedulerARN)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func requester(c echo.Context) string {
	email, _ := auth.RequesterFromContext(c.Request().Context())
	return email
}
