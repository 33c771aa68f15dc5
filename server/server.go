// Package server exposes the HTTP API for querying listings and
// triggering crawls.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"enjoytravel/traveldealworker/config"
	"enjoytravel/traveldealworker/logger"
	"enjoytravel/traveldealworker/services/store"
	"enjoytravel/traveldealworker/services/worker"
)

// Server wraps the gin engine and its dependencies.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	worker *worker.Worker
	engine *gin.Engine
	http   *http.Server
}

// New builds the HTTP server and registers all routes.
func New(cfg *config.Config, st *store.Store, w *worker.Worker) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		cfg:    cfg,
		store:  st,
		worker: w,
		engine: engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.POST("/listings", s.handleListings)
	api.GET("/listings/:slug", s.handleListing)
	api.POST("/crawl", s.handleCrawl)
	api.POST("/refresh", s.handleRefresh)
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	logger.ForServer().Info().Str("addr", s.cfg.ListenAddr).Msg("HTTP server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"total":  s.store.Count(),
	})
}

// handleListings serves the paginated listing query.
func (s *Server) handleListings(c *gin.Context) {
	var q store.Query
	if err := c.ShouldBindJSON(&q); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}
	q.Normalize()

	result := s.store.Query(q)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Listings,
		"pagination": gin.H{
			"page":       result.Page,
			"limit":      result.Limit,
			"total":      result.Total,
			"totalPages": result.TotalPages,
		},
		"filters": gin.H{
			"search":   q.Search,
			"category": q.Category,
		},
		"cached":    result.Cached,
		"timestamp": result.Timestamp,
	})
}

// handleListing serves a single listing by slug.
func (s *Server) handleListing(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid listing identifier"})
		return
	}

	rec := s.store.Get(slug)
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "listing": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "listing": rec})
}

// handleCrawl runs a crawl synchronously. Protected by the trigger
// secret when one is configured.
func (s *Server) handleCrawl(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}

	var req worker.Request
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	result := s.worker.Crawl(c.Request.Context(), req)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

// handleRefresh kicks off a crawl in the background and returns
// immediately.
func (s *Server) handleRefresh(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}

	go func() {
		result := s.worker.Crawl(context.Background(), worker.Request{})
		if !result.Success {
			logger.ForServer().Error().Str("message", result.Message).Msg("Background refresh failed")
		}
	}()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Data refresh initiated in background",
		"status":  "processing",
	})
}

// authorized checks the bearer token against the trigger secret. An
// empty secret leaves the trigger endpoints open.
func (s *Server) authorized(c *gin.Context) bool {
	if s.cfg.TriggerSecret == "" {
		return true
	}
	auth := c.GetHeader("Authorization")
	return auth == "Bearer "+s.cfg.TriggerSecret
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.ForServer().Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}
