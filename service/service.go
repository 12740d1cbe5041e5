// Package service wires configuration, the fetch engines, the selector
// cache and the LLM client into scrape runs. The API server and the CLI
// share one Service per process.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/use-agent/dirscrape/cache"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/llm"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/scraper"
)

// Service owns the process-wide pieces: the lazily started browser, the
// selector cache, the per-domain engine memory and the default LLM client.
type Service struct {
	cfg     *config.Config
	browser *scraper.Browser
	cache   *cache.SelectorCache
	memory  *engine.DomainMemory
	llm     *llm.Client
	metrics *metrics.Collector
}

// New creates a Service. The browser is not launched until a page needs it.
func New(cfg *config.Config, m *metrics.Collector) *Service {
	return &Service{
		cfg:     cfg,
		browser: scraper.NewBrowser(cfg.Browser, cfg.Scraper.BlockedResourceTypes),
		cache:   cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		memory:  engine.NewDomainMemory(cfg.Engine.DomainMemoryTTL),
		llm: llm.NewClient(&http.Client{Timeout: cfg.LLM.Timeout}, llm.Params{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		}, cfg.LLM.SampleTokens),
		metrics: m,
	}
}

// Close shuts down the browser if it was started.
func (s *Service) Close() {
	s.browser.Close()
}

// Config returns the configuration the Service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// CacheStats reports selector cache usage.
func (s *Service) CacheStats() models.CacheStats { return s.cache.Stats() }

// PoolStats reports the browser page pool.
func (s *Service) PoolStats() models.PoolStats { return s.browser.Stats() }

// FetchOptions are the per-run fetch settings a caller may override.
type FetchOptions struct {
	Mode    string
	WaitFor string
	Timeout time.Duration
}

// Fetcher builds the page fetcher for one run. Zero values fall back to
// the configured defaults; Timeout is capped at Scraper.MaxTimeout.
func (s *Service) Fetcher(opts FetchOptions) (*engine.Fetcher, error) {
	if opts.Mode == "" {
		opts.Mode = s.cfg.Scraper.FetchMode
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.Scraper.PageTimeout
	}
	if limit := s.cfg.Scraper.MaxTimeout; limit > 0 && opts.Timeout > limit {
		opts.Timeout = limit
	}

	httpOpts := engine.HTTPOptions{
		UserAgent: s.cfg.Engine.UserAgent,
		Proxy:     s.cfg.Browser.DefaultProxy,
	}
	if opts.Mode == engine.ModeAuto {
		httpOpts.Timeout = s.cfg.Engine.HTTPTimeout
	}

	return engine.Build(engine.BuildOptions{
		Mode:             opts.Mode,
		Render:           s.browser.Render,
		HTTP:             httpOpts,
		EscalationDelays: s.cfg.Engine.EscalationDelays,
		Memory:           s.memory,
		Request: engine.FetchRequest{
			Timeout:           opts.Timeout,
			WaitFor:           opts.WaitFor,
			ScrollForLazyLoad: s.cfg.Scraper.ScrollForLazyLoad,
		},
	})
}

// Inferrer returns the LLM client for one run. Non-empty params override
// the configured ones (bring your own key). A missing key is a
// configuration error, reported before any page is fetched. A custom
// BaseURL must come with its own APIKey so the configured key is only
// ever sent to the configured endpoint.
func (s *Service) Inferrer(p llm.Params) (*llm.Client, error) {
	if p.BaseURL != "" && p.APIKey == "" {
		return nil, models.ConfigError("llm_base_url requires llm_api_key")
	}
	c := s.llm.WithParams(p)
	if !c.Configured() {
		return nil, models.ConfigError("no LLM API key: set DIRSCRAPE_LLM_API_KEY or OPENAI_API_KEY, or pass llm_api_key")
	}
	return c, nil
}

// Orchestrator builds a run orchestrator with the Service's metrics. It
// shares the selector cache unless p points inference at a caller-chosen
// endpoint; selectors from such an endpoint stay with that run.
func (s *Service) Orchestrator(fetcher engine.PageFetcher, inferrer crawl.Inferrer, p llm.Params, progress func(crawl.Progress)) *crawl.Orchestrator {
	opts := []crawl.Option{
		crawl.WithMetrics(s.metrics),
		crawl.WithProgress(progress),
	}
	if p.BaseURL == "" {
		opts = append(opts, crawl.WithCache(s.cache))
	}
	return crawl.New(fetcher, inferrer, opts...)
}

// applyDefaults fills unset request fields from configuration, then from
// the request's own defaults.
func (s *Service) applyDefaults(req *models.ScrapeRequest) {
	if req.MaxPages == 0 {
		req.MaxPages = s.cfg.Scraper.MaxPages
	}
	if req.MaxConcurrent == 0 {
		req.MaxConcurrent = s.cfg.Scraper.MaxConcurrent
	}
	if req.FetchMode == "" {
		req.FetchMode = s.cfg.Scraper.FetchMode
	}
	if req.Timeout == 0 {
		req.Timeout = int(s.cfg.Scraper.PageTimeout / time.Second)
	}
	req.Defaults()
}

// Scrape runs one scrape request end to end. It returns the result and the
// name of the engine used.
func (s *Service) Scrape(ctx context.Context, req *models.ScrapeRequest, progress func(crawl.Progress)) (*models.ScrapeResult, string, error) {
	s.applyDefaults(req)

	fetcher, err := s.Fetcher(FetchOptions{
		Mode:    req.FetchMode,
		WaitFor: req.WaitFor,
		Timeout: time.Duration(req.Timeout) * time.Second,
	})
	if err != nil {
		return nil, "", err
	}
	params := llm.Params{APIKey: req.LLMAPIKey, Model: req.LLMModel, BaseURL: req.LLMBaseURL}
	inferrer, err := s.Inferrer(params)
	if err != nil {
		return nil, "", err
	}

	res, err := s.Orchestrator(fetcher, inferrer, params, progress).Run(ctx, crawl.Options{
		URL:               req.URL,
		Schema:            req.Schema,
		DetailSchema:      req.DetailSchema,
		DetailURLField:    req.DetailURLField,
		MaxPages:          req.MaxPages,
		MaxConcurrent:     req.MaxConcurrent,
		Dedupe:            *req.Dedupe,
		IncludeProvenance: req.IncludeProvenance,
		RequestDelay:      s.cfg.Scraper.RequestDelay,
	})
	return res, fetcher.Name(), err
}

// Preview infers selectors for the first page of req.URL and returns up
// to samples records from it.
func (s *Service) Preview(ctx context.Context, req *models.PreviewRequest, samples int) (*crawl.PreviewResult, error) {
	fetcher, err := s.Fetcher(FetchOptions{Mode: req.FetchMode, WaitFor: req.WaitFor})
	if err != nil {
		return nil, err
	}
	params := llm.Params{APIKey: req.LLMAPIKey, Model: req.LLMModel, BaseURL: req.LLMBaseURL}
	inferrer, err := s.Inferrer(params)
	if err != nil {
		return nil, err
	}
	return s.Orchestrator(fetcher, inferrer, params, nil).Preview(ctx, req.URL, req.Schema, samples)
}
