package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/dirscrape/models"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports cache and pool usage and degrades status when > 80% of browser
// pages are active.
func Health(sc Scraper, startTime time.Time, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sc.PoolStats()

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		resp := models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			CacheStats: sc.CacheStats(),
			Version:    version,
		}
		if stats.BrowserPID != 0 || stats.ActivePages > 0 {
			resp.PoolStats = &stats
		}
		c.JSON(http.StatusOK, resp)
	}
}
