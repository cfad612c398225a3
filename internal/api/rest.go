package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/report"
)

// ErrRunInProgress is returned by Backend.Trigger while another run is executing.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunRequest asks for a new run. Zero fields fall back to the configured defaults.
type RunRequest struct {
	ChaosLevel int     `json:"chaosLevel" binding:"omitempty,min=1,max=5"`
	Seed       *uint64 `json:"seed,omitempty"`
	Duration   string  `json:"duration,omitempty"`
}

// RunResponse is returned by POST /runs.
type RunResponse struct {
	RunID           string   `json:"runId"`
	Score           int      `json:"score"`
	Rating          string   `json:"rating"`
	TotalTests      int      `json:"totalTests"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Backend is what the REST handlers read from and trigger.
type Backend interface {
	LatestSummary(ctx context.Context) (models.Summary, bool)
	HistoryEntries(ctx context.Context) []models.HistoryEntry
	CascadeGraph(ctx context.Context) report.Graph
	RecoveryGraph(ctx context.Context) report.Graph
	Report(ctx context.Context) (string, bool)
	Trigger(ctx context.Context, req RunRequest) (engine.RunResult, error)
}

// Handlers serves the REST API.
type Handlers struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandlers constructs the REST handlers.
func NewHandlers(backend Backend, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{backend: backend, logger: logger}
}

// NewRouter returns a gin engine with every route under /api/v1.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	RegisterRoutes(r.Group("/api/v1"), h)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

// RegisterRoutes registers the resilience endpoints on rg:
//
//	GET  /summary
//	GET  /history
//	GET  /graphs/cascade   (?format=mermaid|dot|json)
//	GET  /graphs/recovery  (?format=mermaid|dot|json)
//	GET  /report
//	POST /runs
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/summary", h.HandleSummary)
	rg.GET("/history", h.HandleHistory)
	rg.GET("/graphs/cascade", h.HandleCascadeGraph)
	rg.GET("/graphs/recovery", h.HandleRecoveryGraph)
	rg.GET("/report", h.HandleReport)
	rg.POST("/runs", h.HandleRun)
}

// HandleSummary returns the latest scored summary.
func (h *Handlers) HandleSummary(c *gin.Context) {
	summary, ok := h.backend.LatestSummary(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no run has been scored yet", Code: "NO_SUMMARY"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleHistory returns the score history, oldest first.
func (h *Handlers) HandleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.HistoryEntries(c.Request.Context()))
}

// HandleCascadeGraph renders the cascade graph.
func (h *Handlers) HandleCascadeGraph(c *gin.Context) {
	writeGraph(c, h.backend.CascadeGraph(c.Request.Context()))
}

// HandleRecoveryGraph renders the recovery path graph.
func (h *Handlers) HandleRecoveryGraph(c *gin.Context) {
	writeGraph(c, h.backend.RecoveryGraph(c.Request.Context()))
}

// HandleReport returns the text report of the latest run.
func (h *Handlers) HandleReport(c *gin.Context) {
	text, ok := h.backend.Report(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no report available", Code: "NO_REPORT"})
		return
	}
	c.String(http.StatusOK, text)
}

// HandleRun triggers a run and waits for its result.
func (h *Handlers) HandleRun(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn("invalid run request", slog.Any("error", err))
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
			return
		}
	}
	if req.Duration != "" {
		if _, err := time.ParseDuration(req.Duration); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid duration", Code: "INVALID_REQUEST"})
			return
		}
	}

	// A run is never cancelled midway; a client that disconnects only loses the response.
	result, err := h.backend.Trigger(context.WithoutCancel(c.Request.Context()), req)
	switch {
	case errors.Is(err, ErrRunInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "RUN_IN_PROGRESS"})
		return
	case errors.Is(err, engine.ErrNoSummary):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "NO_TESTS"})
		return
	case err != nil:
		h.logger.Error("run failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "run failed", Code: "RUN_FAILED"})
		return
	}

	resp := RunResponse{
		RunID:           result.Plan.RunID,
		Rating:          result.Summary.ResilienceRating,
		TotalTests:      result.Summary.TotalTests,
		Recommendations: result.Recommendations,
	}
	if result.Summary.ResilienceScore != nil {
		resp.Score = *result.Summary.ResilienceScore
	}
	c.JSON(http.StatusOK, resp)
}

func writeGraph(c *gin.Context, g report.Graph) {
	switch c.DefaultQuery("format", "mermaid") {
	case "dot":
		c.String(http.StatusOK, g.DOT())
	case "json":
		c.JSON(http.StatusOK, g)
	case "mermaid":
		c.String(http.StatusOK, g.Mermaid())
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "format must be mermaid, dot or json", Code: "INVALID_FORMAT"})
	}
}

func (h *Handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
