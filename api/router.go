package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/dirscrape/api/handler"
	"github.com/use-agent/dirscrape/api/middleware"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/metrics"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → Metrics
//	API:     Auth (if enabled) → RateLimit
//
// Health and /metrics are outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, sc handler.Scraper, jobs *handler.JobStore, m *metrics.Collector, version string) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(m.Middleware())

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(sc, time.Now(), version))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Synchronous scrape
	protected.POST("/scrape", handler.Scrape(sc))

	// Asynchronous jobs
	protected.POST("/jobs", handler.PostJob(sc, jobs))
	protected.GET("/jobs/:id", handler.GetJob(jobs))

	// Selector preview
	protected.POST("/selectors", handler.Selectors(sc))

	return r
}
