// Package metrics exposes Prometheus counters for scrape runs and the API.
// Every method is a no-op on a nil *Collector, so library code can record
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/dirscrape/models"
)

const namespace = "dirscrape"

// Page kinds.
const (
	KindListing = "listing"
	KindDetail  = "detail"
)

// Collector owns a private registry and the dirscrape metrics.
type Collector struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	runsActive  prometheus.Gauge

	pagesTotal     *prometheus.CounterVec
	recordsTotal   prometheus.Counter
	inferenceTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	serviceInfo *prometheus.GaugeVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New(version string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scrape runs by outcome (ok or the fatal error code).",
		},
		[]string{"status"},
	)
	c.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of scrape runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
	c.runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Scrape runs in progress.",
		},
	)
	c.pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Fetched pages by kind and result (ok or the per-page error code).",
		},
		[]string{"kind", "result"},
	)
	c.recordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records emitted by completed runs.",
		},
	)
	c.inferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_inference_total",
			Help:      "Selector lookups by kind and result (cached, inferred or the error code).",
		},
		[]string{"kind", "result"},
	)
	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	c.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_info",
			Help:      "Service information.",
		},
		[]string{"version"},
	)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.runsTotal, c.runDuration, c.runsActive,
		c.pagesTotal, c.recordsTotal, c.inferenceTotal,
		c.httpRequestsTotal, c.httpRequestDuration,
		c.serviceInfo,
	)
	c.serviceInfo.WithLabelValues(version).Set(1)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RunStarted marks a run as in progress.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.runsActive.Inc()
}

// RunFinished records a run's outcome. err is nil for a successful run.
func (c *Collector) RunFinished(err error, elapsed time.Duration, records int) {
	if c == nil {
		return
	}
	c.runsActive.Dec()
	c.runDuration.Observe(elapsed.Seconds())
	c.runsTotal.WithLabelValues(resultOf(err)).Inc()
	if err == nil {
		c.recordsTotal.Add(float64(records))
	}
}

// PageFetched counts one listing or detail page.
func (c *Collector) PageFetched(kind string, err error) {
	if c == nil {
		return
	}
	c.pagesTotal.WithLabelValues(kind, resultOf(err)).Inc()
}

// SelectorLookup counts one selector lookup through the cache.
func (c *Collector) SelectorLookup(kind string, cached bool, err error) {
	if c == nil {
		return
	}
	result := resultOf(err)
	if err == nil {
		result = "inferred"
		if cached {
			result = "cached"
		}
	}
	c.inferenceTotal.WithLabelValues(kind, result).Inc()
}

// Middleware returns gin middleware that records request counts and latency.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := ctx.Request.Method
		c.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	return models.CodeOf(err)
}
