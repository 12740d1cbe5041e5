package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/models"
)

// Scraper is what the handlers need from the service layer.
type Scraper interface {
	Scrape(ctx context.Context, req *models.ScrapeRequest, progress func(crawl.Progress)) (*models.ScrapeResult, string, error)
	Preview(ctx context.Context, req *models.PreviewRequest, samples int) (*crawl.PreviewResult, error)
	CacheStats() models.CacheStats
	PoolStats() models.PoolStats
}

// Scrape returns a handler for POST /api/v1/scrape.
//
// Orchestration flow:
//  1. Parse & validate request.
//  2. Run the scrape (inference, crawl, detail pass) on the request context.
//  3. Map fatal errors to a status code, or return the result.
func Scrape(sc Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ── 1. Parse request ────────────────────────────────────────
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// ── 2. Scrape ───────────────────────────────────────────────
		result, engineUsed, err := sc.Scrape(c.Request.Context(), &req, nil)
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, models.ScrapeResponse{
			Success:    true,
			Data:       result,
			EngineUsed: engineUsed,
		})
	}
}

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	detail := errorDetail(err)
	c.JSON(mapErrorToStatus(detail.Code), models.ScrapeResponse{
		Success: false,
		Error:   detail,
	})
}

// errorDetail converts any error to its API form.
func errorDetail(err error) *models.ErrorDetail {
	var se *models.ScrapeError
	switch {
	case errors.As(err, &se):
		return se.ToDetail()
	case errors.Is(err, context.DeadlineExceeded):
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: "scrape deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: "scrape canceled"}
	default:
		return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
	}
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeInvalidInput, models.ErrCodeConfiguration:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized, models.ErrCodeLLMAuthFailure:
		return http.StatusUnauthorized // 401
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited, models.ErrCodeLLMRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeInference, models.ErrCodeFetch, models.ErrCodeNavigation, models.ErrCodeBrowserCrash, models.ErrCodeExtraction:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
