// Package api exposes replay, probe, diff and abort over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/database"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/diff"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
)

// Version is reported by /health.
var Version = "dev"

// maxDescriptorBytes bounds request bodies.
const maxDescriptorBytes = 8 << 20

// Service is what the routes call. *orchestrator.Orchestrator satisfies it.
type Service interface {
	Request(ctx context.Context, taskID string, descriptor []byte) (*types.Result, error)
	Probe(ctx context.Context, taskID string, req probe.Request, onResult func(probe.Outcome)) ([]string, error)
	Diff(ctx context.Context, taskID string, a, b []byte) (*diff.Result, error)
	Abort(ctx context.Context) error
	Resume(ctx context.Context) error
	Aborted(ctx context.Context) bool
	Pages(ctx context.Context, taskID string, limit int) ([]database.PageRecord, error)
	Forms(taskID string) map[string]scan.Form
	Ping(ctx context.Context) error
	PacerStats() ratelimit.Stats
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// ProbeRequest is the probe body. Request is the descriptor template, either
// as an object or as a string when a placeholder sits outside a JSON string.
type ProbeRequest struct {
	Request json.RawMessage `json:"request"`
	Value   string          `json:"value"`
	Type    probe.Kind      `json:"type"`
	Token   string          `json:"token,omitempty"`
	Param   string          `json:"param,omitempty"`
}

func (r ProbeRequest) toProbe() (probe.Request, error) {
	tmpl, err := orchestrator.DescriptorJSON(r.Request)
	if err != nil {
		return probe.Request{}, err
	}
	return probe.Request{
		Request: string(tmpl),
		Value:   r.Value,
		Type:    r.Type,
		Token:   r.Token,
		Param:   r.Param,
	}, nil
}

type DiffRequest struct {
	RequestA json.RawMessage `json:"request_a"`
	RequestB json.RawMessage `json:"request_b"`
}

type Server struct {
	svc     Service
	metrics http.Handler
	cfg     *config.Config
	log     *logger.Logger
}

func NewServer(svc Service, metrics http.Handler, cfg *config.Config, log *logger.Logger) *Server {
	return &Server{
		svc:     svc,
		metrics: metrics,
		cfg:     cfg,
		log:     log.WithComponent("api"),
	}
}

// Router builds the gin engine. /health and /metrics skip authentication.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(s.log))
	if s.cfg.Server.EnableCORS {
		router.Use(CORSMiddleware())
	}

	router.GET("/health", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/api/v1")
	if s.cfg.Security.APIKey != "" {
		v1.Use(AuthMiddleware(s.cfg.Security.APIKey, s.log))
	}
	v1.Use(RateLimitMiddleware(s.cfg.Security.RateLimit))
	{
		v1.POST("/request", s.request)
		v1.POST("/probe", s.probe)
		v1.GET("/probe/stream", s.probeStream)
		v1.POST("/diff", s.diff)
		v1.GET("/abort", s.abortStatus)
		v1.POST("/abort", s.abort)
		v1.DELETE("/abort", s.resume)
		v1.GET("/pages", s.pages)
		v1.GET("/forms", s.forms)
	}
	return router
}

// taskID reads the task from the X-Task-ID header or the task query parameter.
func taskID(c *gin.Context) string {
	if id := c.GetHeader("X-Task-ID"); id != "" {
		return id
	}
	return c.Query("task")
}

// statusFor maps caller mistakes to 400 and everything else to 500.
func statusFor(err error) int {
	var malformed *types.MalformedDescriptorError
	switch {
	case errors.As(err, &malformed),
		errors.Is(err, probe.ErrInvalidRange),
		errors.Is(err, probe.ErrNoValues),
		errors.Is(err, probe.ErrInvalidProbe):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("Request failed", "operation", op, "error", err)
	} else {
		s.log.Debugw("Rejected request", "operation", op, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if err := s.svc.Ping(ctx); err != nil {
		healthy = false
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = gin.H{"status": "healthy"}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":   healthy,
		"aborted":   s.svc.Aborted(ctx),
		"checks":    checks,
		"pacer":     s.svc.PacerStats(),
		"timestamp": time.Now().Unix(),
		"version":   Version,
	})
}

// request takes the descriptor as the raw body and answers with the result.
func (s *Server) request(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDescriptorBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	result, err := s.svc.Request(c.Request.Context(), taskID(c), body)
	if err != nil {
		s.fail(c, "request", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) probe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	pr, err := req.toProbe()
	if err != nil {
		s.fail(c, "probe", err)
		return
	}
	lines, err := s.svc.Probe(c.Request.Context(), taskID(c), pr, nil)
	if err != nil {
		s.fail(c, "probe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (s *Server) diff(c *gin.Context) {
	var req DiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	a, err := orchestrator.DescriptorJSON(req.RequestA)
	if err != nil {
		s.fail(c, "diff", err)
		return
	}
	b, err := orchestrator.DescriptorJSON(req.RequestB)
	if err != nil {
		s.fail(c, "diff", err)
		return
	}
	result, err := s.svc.Diff(c.Request.Context(), taskID(c), a, b)
	if err != nil {
		s.fail(c, "diff", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) abortStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"aborted": s.svc.Aborted(c.Request.Context())})
}

func (s *Server) abort(c *gin.Context) {
	if err := s.svc.Abort(c.Request.Context()); err != nil {
		s.fail(c, "abort", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

func (s *Server) resume(c *gin.Context) {
	if err := s.svc.Resume(c.Request.Context()); err != nil {
		s.fail(c, "resume", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": false})
}

func (s *Server) pages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	pages, err := s.svc.Pages(c.Request.Context(), taskID(c), limit)
	if err != nil {
		s.fail(c, "pages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (s *Server) forms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"forms": s.svc.Forms(taskID(c))})
}
