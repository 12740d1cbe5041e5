package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/dirscrape/api/handler"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/webhook"
)

type fakeScraper struct {
	err   error
	calls atomic.Int32
}

func (f *fakeScraper) Scrape(ctx context.Context, req *models.ScrapeRequest, progress func(crawl.Progress)) (*models.ScrapeResult, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	rec := models.NewRecord(req.Schema.Names())
	rec.Set(req.Schema.Fields[0].Name, models.StringPtr("Ada Lovelace"))
	return &models.ScrapeResult{
		RunID:   "run-1",
		URL:     req.URL,
		Records: []*models.Record{rec},
		Stats:   models.RunStats{PagesVisited: 1, InferenceCalls: 1},
	}, "http", nil
}

func (f *fakeScraper) Preview(ctx context.Context, req *models.PreviewRequest, samples int) (*crawl.PreviewResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &crawl.PreviewResult{
		Selectors:  &models.SelectorMap{ItemSelector: "li.member", Fields: map[string]string{"name": "h3"}},
		ItemCount:  12,
		Next:       crawl.Decision{Continue: true, URL: "https://dir.test/?page=2"},
		EngineName: "http",
	}, nil
}

func (f *fakeScraper) CacheStats() models.CacheStats { return models.CacheStats{Entries: 2} }
func (f *fakeScraper) PoolStats() models.PoolStats   { return models.PoolStats{} }

const scrapeBody = `{"url": "https://dir.test/members", "schema": {"name": "member name", "email": "email"}}`

func newTestRouter(t *testing.T, sc handler.Scraper, rl config.RateLimitConfig) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: rl,
	}
	jobs := handler.NewJobStore(time.Hour, 2)
	t.Cleanup(jobs.Close)
	return NewRouter(cfg, sc, jobs, metrics.New("1.2.3"), "1.2.3")
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var generous = config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}

func TestHealthAndMetricsNeedNoAuth(t *testing.T) {
	r := newTestRouter(t, &fakeScraper{}, generous)

	w := do(r, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 2, health.CacheStats.Entries)

	w = do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dirscrape_service_info")
}

func TestScrapeAuth(t *testing.T) {
	r := newTestRouter(t, &fakeScraper{}, generous)

	w := do(r, http.MethodPost, "/api/v1/scrape", scrapeBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/scrape", scrapeBody, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/scrape", scrapeBody, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success    bool   `json:"success"`
		EngineUsed string `json:"engine_used"`
		Data       struct {
			Records []map[string]*string `json:"records"`
			Stats   models.RunStats      `json:"stats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "http", resp.EngineUsed)
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, "Ada Lovelace", *resp.Data.Records[0]["name"])
	assert.Nil(t, resp.Data.Records[0]["email"])
	assert.Equal(t, 1, resp.Data.Stats.PagesVisited)
}

func TestScrapeInvalidInput(t *testing.T) {
	sc := &fakeScraper{}
	r := newTestRouter(t, sc, generous)

	for _, body := range []string{
		`{"schema": {"name": "n"}}`,
		`{"url": "not a url", "schema": {"name": "n"}}`,
		`{"url": "https://dir.test", "schema": ["name"]}`,
		`{"url": "https://dir.test", "schema": {"name": "n"}, "max_pages": 9999}`,
		`{"url": "https://dir.test", "schema": {"name": "n"}, "fetch_mode": "telnet"}`,
		`{"url": "https://dir.test", "schema": {"name": "n"}, "llm_base_url": "https://llm.evil.test/v1"}`,
	} {
		w := do(r, http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "secret")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), models.ErrCodeInvalidInput)
	}
	assert.Equal(t, int32(0), sc.calls.Load())
}

func TestScrapeErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ConfigError("detail URL field %q is not in the listing schema", "x"), http.StatusBadRequest},
		{models.NewScrapeError(models.ErrCodeInference, "model returned invalid JSON", nil), http.StatusBadGateway},
		{models.NewScrapeError(models.ErrCodeLLMAuthFailure, "bad key", nil), http.StatusUnauthorized},
		{models.NewScrapeError(models.ErrCodeLLMRateLimited, "slow down", nil), http.StatusTooManyRequests},
		{models.NewScrapeError(models.ErrCodeFetch, "first page could not be fetched", nil), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		r := newTestRouter(t, &fakeScraper{err: tt.err}, generous)
		w := do(r, http.MethodPost, "/api/v1/scrape", scrapeBody, "X-API-Key", "secret")
		assert.Equal(t, tt.want, w.Code, tt.err.Error())

		var resp models.ScrapeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
	}
}

func TestJobsLifecycle(t *testing.T) {
	hooks := make(chan webhook.Event, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		assert.NotEmpty(t, r.Header.Get(webhook.SignatureHeader))
		hooks <- ev
	}))
	defer hookSrv.Close()

	r := newTestRouter(t, &fakeScraper{}, generous)
	body := `{"url": "https://dir.test/members", "schema": {"name": "n"}, "webhook_url": "` + hookSrv.URL + `", "webhook_secret": "s"}`

	w := do(r, http.MethodPost, "/api/v1/jobs", body, "X-API-Key", "secret")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.JobProcessing, created.Status)
	require.NotEmpty(t, created.ID)

	select {
	case ev := <-hooks:
		assert.Equal(t, webhook.EventCompleted, ev.Type)
		assert.Equal(t, created.ID, ev.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	w = do(r, http.MethodGet, "/api/v1/jobs/"+created.ID, "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Status string `json:"status"`
		Result struct {
			Records []map[string]*string `json:"records"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Len(t, got.Result.Records, 1)

	w = do(r, http.MethodGet, "/api/v1/jobs/job-missing", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailedJob(t *testing.T) {
	r := newTestRouter(t, &fakeScraper{err: models.NewScrapeError(models.ErrCodeInference, "no", nil)}, generous)

	w := do(r, http.MethodPost, "/api/v1/jobs", scrapeBody, "X-API-Key", "secret")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	assert.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/api/v1/jobs/"+created.ID, "", "X-API-Key", "secret")
		var got models.JobResponse
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		return got.Status == models.JobFailed && got.Error != nil && got.Error.Code == models.ErrCodeInference
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSelectorsPreview(t *testing.T) {
	r := newTestRouter(t, &fakeScraper{}, generous)

	w := do(r, http.MethodPost, "/api/v1/selectors", `{"url": "https://dir.test/", "schema": {"name": "n"}}`, "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PreviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 12, resp.ItemCount)
	assert.Equal(t, "li.member", resp.Selectors.ItemSelector)
	assert.Equal(t, "https://dir.test/?page=2", resp.NextURL)
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, &fakeScraper{}, config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1})

	w := do(r, http.MethodPost, "/api/v1/scrape", scrapeBody, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/v1/scrape", scrapeBody, "X-API-Key", "secret")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), models.ErrCodeRateLimited)
}
