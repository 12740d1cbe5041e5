package models

// ScrapeResponse is the response for POST /api/v1/scrape.
type ScrapeResponse struct {
	// Success indicates whether the run completed without a fatal error.
	Success bool `json:"success"`

	// Data is the run result. Nil when Success is false.
	Data *ScrapeResult `json:"data,omitempty"`

	// EngineUsed indicates which fetch mode the run used.
	EngineUsed string `json:"engine_used,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Job statuses.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// JobResponse is returned by POST /api/v1/jobs and GET /api/v1/jobs/:id.
type JobResponse struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	URL       string        `json:"url"`
	CreatedAt string        `json:"created_at"`
	Result    *ScrapeResult `json:"result,omitempty"`
	Error     *ErrorDetail  `json:"error,omitempty"`
}

// PreviewResponse is the response for POST /api/v1/selectors.
type PreviewResponse struct {
	Success    bool         `json:"success"`
	Selectors  *SelectorMap `json:"selectors,omitempty"`
	ItemCount  int          `json:"item_count"`
	NextURL    string       `json:"next_url,omitempty"`
	Samples    []*Record    `json:"samples,omitempty"`
	EngineUsed string       `json:"engine_used,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string     `json:"status"` // "healthy" or "degraded"
	Uptime     string     `json:"uptime"`
	CacheStats CacheStats `json:"cache_stats"`
	PoolStats  *PoolStats `json:"pool_stats,omitempty"`
	Version    string     `json:"version"`
}

// CacheStats reports selector cache usage.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
	BrowserPID  int `json:"browser_pid"`
}
