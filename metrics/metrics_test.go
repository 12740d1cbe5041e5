package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/dirscrape/models"
)

func TestCollectorCounts(t *testing.T) {
	c := New("test")

	c.RunStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.runsActive))

	c.PageFetched(KindListing, nil)
	c.PageFetched(KindListing, models.NewScrapeError(models.ErrCodeFetch, "HTTP 500", nil))
	c.PageFetched(KindDetail, nil)
	c.SelectorLookup(KindListing, true, nil)
	c.SelectorLookup(KindDetail, false, models.NewScrapeError(models.ErrCodeInference, "bad json", nil))
	c.RunFinished(nil, 2*time.Second, 7)

	assert.Equal(t, float64(0), testutil.ToFloat64(c.runsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pagesTotal.WithLabelValues(KindListing, "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pagesTotal.WithLabelValues(KindListing, models.ErrCodeFetch)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.inferenceTotal.WithLabelValues(KindListing, "cached")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.inferenceTotal.WithLabelValues(KindDetail, models.ErrCodeInference)))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.recordsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.runsTotal.WithLabelValues("ok")))

	c.RunStarted()
	c.RunFinished(errors.New("boom"), time.Second, 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.runsTotal.WithLabelValues(models.ErrCodeInternal)))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.recordsTotal))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RunStarted()
		c.PageFetched(KindListing, nil)
		c.SelectorLookup(KindListing, false, nil)
		c.RunFinished(nil, time.Second, 1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New("1.2.3")
	c.PageFetched(KindDetail, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dirscrape_pages_total{kind="detail",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `dirscrape_service_info{version="1.2.3"} 1`)
}
