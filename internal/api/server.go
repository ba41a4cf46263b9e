// Package api exposes the HTTP surface: search, index control, stats and
// health. Handlers are thin; all behavior lives in the pipeline packages.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"piclocate/internal/apperr"
	"piclocate/internal/index"
	"piclocate/internal/logging"
	"piclocate/internal/search"
	"piclocate/internal/store"
)

// HealthChecker probes one dependency. Implementations should be cheap.
type HealthChecker func(ctx context.Context) error

// Server bundles the handlers and their dependencies.
type Server struct {
	engine   *search.Engine
	st       *store.Store
	tracker  *index.Tracker
	startRun func() error // kicks off an indexing run in the background
	checks   map[string]HealthChecker
}

// NewServer creates the API server.
func NewServer(engine *search.Engine, st *store.Store, tracker *index.Tracker, startRun func() error, checks map[string]HealthChecker) *Server {
	return &Server{
		engine:   engine,
		st:       st,
		tracker:  tracker,
		startRun: startRun,
		checks:   checks,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), corsMiddleware())

	r.POST("/search", s.handleSearch)
	r.POST("/index/start", s.handleIndexStart)
	r.GET("/index/status", s.handleIndexStatus)
	r.GET("/stats", s.handleStats)
	r.GET("/health", s.handleHealth)
	return r
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Lang  string `json:"lang"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindInput, err, "invalid search request"))
		return
	}
	if req.Lang != "" && req.Lang != "en" && req.Lang != "he" && req.Lang != "auto" {
		writeError(c, apperr.Newf(apperr.KindInput, "unsupported lang %q", req.Lang))
		return
	}

	resp, err := s.engine.Search(c.Request.Context(), req.Query, req.Lang, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIndexStart(c *gin.Context) {
	if s.tracker.Snapshot().IsRunning {
		c.JSON(http.StatusOK, gin.H{"status": "already_running"})
		return
	}
	if err := s.startRun(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleIndexStatus(c *gin.Context) {
	snap := s.tracker.Snapshot()
	pct := 0.0
	if snap.TotalCount > 0 {
		pct = float64(snap.ProcessedCount) / float64(snap.TotalCount) * 100
	}
	resp := gin.H{
		"is_running":      snap.IsRunning,
		"processed_count": snap.ProcessedCount,
		"total_count":     snap.TotalCount,
		"progress_pct":    pct,
		"errors":          snap.Errors,
	}
	if snap.StartedAt != nil {
		resp["started_at"] = snap.StartedAt
	}
	if snap.CurrentFile != "" {
		resp["current_file"] = snap.CurrentFile
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.st.CollectStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}

// writeError maps the error taxonomy onto HTTP statuses with a stable JSON
// shape.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case apperr.KindInput, apperr.KindParse:
		code = http.StatusBadRequest
	case apperr.KindAuth:
		code = http.StatusUnauthorized
	case apperr.KindTransient:
		code = http.StatusServiceUnavailable
	}
	logging.Get(logging.CategoryAPI).Warn("%s %s -> %d: %v", c.Request.Method, c.Request.URL.Path, code, err)
	c.JSON(code, gin.H{"error": gin.H{"kind": string(kind), "message": err.Error()}})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Get(logging.CategoryAPI).Info("%s %s %d %v",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
