package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/models"
)

// Selectors returns a handler for POST /api/v1/selectors. It infers fresh
// selectors for the first page and shows what they extract, without
// crawling further.
func Selectors(sc Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PreviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.PreviewResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		p, err := sc.Preview(c.Request.Context(), &req, crawl.DefaultPreviewSamples)
		if err != nil {
			detail := errorDetail(err)
			c.JSON(mapErrorToStatus(detail.Code), models.PreviewResponse{Success: false, Error: detail})
			return
		}

		c.JSON(http.StatusOK, models.PreviewResponse{
			Success:    true,
			Selectors:  p.Selectors,
			ItemCount:  p.ItemCount,
			NextURL:    p.Next.URL,
			Samples:    p.Samples,
			EngineUsed: p.EngineName,
		})
	}
}
