// Package crawl drives a scrape run: selector inference through the cache,
// bounded-concurrency listing crawl with pagination, record cleanup, and
// the optional detail pass.
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/use-agent/dirscrape/cache"
	"github.com/use-agent/dirscrape/cleaner"
	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/extract"
	"github.com/use-agent/dirscrape/llm"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/simhash"
)

// Inferrer turns a sample page into selectors. *llm.Client implements it.
type Inferrer interface {
	InferSelectors(ctx context.Context, req llm.InferRequest) (*models.SelectorMap, error)
}

// Stage names the part of a run in progress.
type Stage string

const (
	StageInfer  Stage = "infer"
	StageCrawl  Stage = "crawl"
	StageDetail Stage = "detail"
	StageDone   Stage = "done"
)

// Progress is reported from the coordinating goroutine after each step.
type Progress struct {
	Stage       Stage
	Pages       int
	DetailPages int
	Records     int
}

// Orchestrator runs scrapes. It holds no per-run state and is safe for
// concurrent use; concurrent runs share the selector cache.
type Orchestrator struct {
	fetcher   engine.PageFetcher
	inferrer  Inferrer
	cache     *cache.SelectorCache
	extractor *extract.Extractor
	cleaner   *cleaner.Cleaner
	paginator *Paginator
	metrics   *metrics.Collector
	progress  func(Progress)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache shares inferred selectors across runs.
func WithCache(c *cache.SelectorCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithMetrics records run, page and inference counters.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProgress registers a callback invoked as the run advances.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// New creates an Orchestrator.
func New(fetcher engine.PageFetcher, inferrer Inferrer, opts ...Option) *Orchestrator {
	ex := extract.New()
	o := &Orchestrator{
		fetcher:   fetcher,
		inferrer:  inferrer,
		extractor: ex,
		cleaner:   cleaner.NewCleaner(),
		paginator: NewPaginator(ex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one Run. Everything except the limiter is touched
// only by the coordinating goroutine.
type run struct {
	opts    Options
	listing *models.Schema
	result  *models.ScrapeResult
	visited map[string]bool
	guard   *simhash.Guard
	limiter *rate.Limiter
}

func (r *run) visit(u string) {
	r.visited[NormalizeURL(u)] = true
}

// Run scrapes opts.URL. The only errors are fatal ones: configuration,
// first-page fetch, inference, or ctx cancellation. Per-page failures are
// counted in the result's Stats.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*models.ScrapeResult, error) {
	start := time.Now()
	o.metrics.RunStarted()

	result, err := o.run(ctx, opts, start)

	records := 0
	if result != nil {
		records = len(result.Records)
	}
	o.metrics.RunFinished(err, time.Since(start), records)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, opts Options, start time.Time) (*models.ScrapeResult, error) {
	// ── 1. Init ───────────────────────────────────────────────────────
	listing, err := opts.prepare()
	if err != nil {
		return nil, err
	}
	r := &run{
		opts:    opts,
		listing: listing,
		result: &models.ScrapeResult{
			RunID:             uuid.NewString(),
			URL:               opts.URL,
			Records:           []*models.Record{},
			IncludeProvenance: opts.IncludeProvenance,
		},
		visited: make(map[string]bool),
		guard:   simhash.NewGuard(0),
	}
	if opts.RequestDelay > 0 {
		r.limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}
	log := slog.With("run_id", r.result.RunID, "url", opts.URL)
	log.Info("scrape started",
		"fields", len(opts.Schema.Fields),
		"max_pages", opts.MaxPages,
		"max_concurrent", opts.MaxConcurrent,
		"detail", opts.DetailSchema != nil,
	)

	// ── 2. Infer ──────────────────────────────────────────────────────
	o.report(r, StageInfer)
	first, err := o.fetch(ctx, r, opts.URL)
	o.metrics.PageFetched(metrics.KindListing, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewScrapeError(models.CodeOf(err),
			"first page could not be fetched, no sample for selector inference", err)
	}
	sm, err := o.selectors(ctx, r, listing, first, false)
	if err != nil {
		return nil, err
	}
	r.result.Selectors = sm

	// ── 3. Crawl ──────────────────────────────────────────────────────
	records, err := o.crawl(ctx, r, first, sm)
	if err != nil {
		return nil, err
	}

	// ── 4. Clean up records ───────────────────────────────────────────
	records = r.postProcess(records)

	// ── 5. Detail pass ────────────────────────────────────────────────
	if opts.DetailSchema != nil {
		if err := o.detailPass(ctx, r, records); err != nil {
			return nil, err
		}
	}

	// ── 6. Done ───────────────────────────────────────────────────────
	r.result.Records = records
	r.result.Stats.Elapsed = time.Since(start)
	r.result.Stats.ElapsedMs = r.result.Stats.Elapsed.Milliseconds()
	o.report(r, StageDone)

	st := r.result.Stats
	log.Info("scrape finished",
		"records", len(records),
		"pages", st.PagesVisited,
		"pages_failed", st.PagesFailed,
		"detail_pages", st.DetailPagesVisited,
		"detail_failed", st.DetailPagesFailed,
		"dropped", st.RecordsDropped,
		"duplicates", st.DuplicatesRemoved,
		"inference_calls", st.InferenceCalls,
		"elapsed_ms", st.ElapsedMs,
	)
	return r.result, nil
}

// fetch waits for the politeness limiter, then fetches one page.
func (o *Orchestrator) fetch(ctx context.Context, r *run, pageURL string) (*engine.FetchResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewScrapeError(models.ErrCodeTimeout, "politeness delay exceeds the deadline", err)
		}
	}
	res, err := o.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if res.FinalURL == "" {
		res.FinalURL = pageURL
	}
	return res, nil
}

// selectors returns the selectors for schema on the sample page's site,
// inferring them at most once per (site, schema) through the cache.
func (o *Orchestrator) selectors(ctx context.Context, r *run, schema *models.Schema, sample *engine.FetchResult, detail bool) (*models.SelectorMap, error) {
	kind := metrics.KindListing
	if detail {
		kind = metrics.KindDetail
	}
	sampleURL := sample.FinalURL

	var called atomic.Bool
	infer := func(ctx context.Context) (*models.SelectorMap, error) {
		called.Store(true)
		req := llm.InferRequest{URL: sampleURL, HTML: sample.HTML, Schema: schema, Detail: detail}
		if !detail {
			req.DetailLinkField = r.opts.DetailURLField
		}
		return o.inferrer.InferSelectors(ctx, req)
	}

	var (
		sm  *models.SelectorMap
		hit bool
		err error
	)
	if o.cache != nil {
		sm, hit, err = o.cache.GetOrInfer(ctx, cache.Key(cache.SiteOf(sampleURL), schema, detail), infer)
	} else {
		sm, err = infer(ctx)
	}
	if called.Load() {
		r.result.Stats.InferenceCalls++
	}
	o.metrics.SelectorLookup(kind, hit, err)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !models.IsInferenceFailure(err) {
			err = models.NewScrapeError(models.ErrCodeInference, "selector inference failed", err)
		}
		return nil, err
	}
	if sm == nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, "selector inference returned nothing", nil)
	}
	if !detail && r.opts.DetailURLField != "" {
		sm.DetailLinkField = r.opts.DetailURLField
	}

	slog.Info("selectors ready",
		"run_id", r.result.RunID,
		"kind", kind,
		"cached", hit,
		"item_selector", sm.ItemSelector,
		"pagination", sm.Pagination,
	)
	return sm, nil
}

// pageJob is one scheduled listing page. seq is assigned at dispatch and
// fixes the page's position in the output.
type pageJob struct {
	seq        int
	url        string
	prefetched *engine.FetchResult
}

// pageResult is what a worker hands back to the coordinator.
type pageResult struct {
	job        pageJob
	finalURL   string
	records    []*models.Record
	candidates []string
	reason     string
	err        error
}

// crawl walks the listing pages in waves. Workers only fetch, extract and
// clean; the coordinator owns visited, the schedule and the counters.
func (o *Orchestrator) crawl(ctx context.Context, r *run, first *engine.FetchResult, sm *models.SelectorMap) ([]*models.Record, error) {
	var records []*models.Record

	r.visit(r.opts.URL)
	wave := []pageJob{{seq: 1, url: r.opts.URL, prefetched: first}}
	scheduled := 1

	for len(wave) > 0 {
		results, err := o.runWave(ctx, r, wave, sm)
		if err != nil {
			return nil, err
		}

		var next []pageJob
		for _, pr := range results {
			r.result.Visited = append(r.result.Visited, pr.job.url)
			if pr.err != nil {
				if !models.IsPageFailure(pr.err) {
					return nil, pr.err
				}
				r.pageFailed(metrics.KindListing, pr.job.url, pr.err)
				continue
			}
			r.result.Stats.PagesVisited++
			r.visit(pr.finalURL)

			if prev, dup := r.guard.Seen(simhash.Records(pr.records), pr.job.url); dup {
				r.result.Stats.DuplicatePages++
				slog.Info("pagination stopped", "url", pr.job.url, "reason", ReasonDuplicatePage, "same_as", prev)
				continue
			}
			records = append(records, pr.records...)

			d := Decision{Reason: pr.reason}
			if pr.reason == "" {
				d = Decide(pr.candidates, pr.finalURL, r.visited)
			}
			if !d.Continue {
				slog.Debug("pagination stopped", "url", pr.job.url, "reason", d.Reason)
				continue
			}
			if scheduled >= r.opts.MaxPages {
				slog.Info("pagination stopped", "url", pr.job.url, "reason", ReasonMaxPages, "max_pages", r.opts.MaxPages)
				continue
			}
			scheduled++
			r.visit(d.URL)
			next = append(next, pageJob{seq: scheduled, url: d.URL})
		}

		o.reportRecords(r, StageCrawl, len(records))
		wave = next
	}
	return records, nil
}

// runWave processes jobs with at most MaxConcurrent in flight and returns
// results in job order.
func (o *Orchestrator) runWave(ctx context.Context, r *run, wave []pageJob, sm *models.SelectorMap) ([]pageResult, error) {
	results := make([]pageResult, len(wave))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)
	for i, job := range wave {
		g.Go(func() error {
			results[i] = o.scrapePage(gctx, r, job, sm)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// scrapePage fetches (unless prefetched), extracts and cleans one listing
// page and collects its pagination candidates.
func (o *Orchestrator) scrapePage(ctx context.Context, r *run, job pageJob, sm *models.SelectorMap) pageResult {
	pr := pageResult{job: job}

	res := job.prefetched
	if res == nil {
		var err error
		res, err = o.fetch(ctx, r, job.url)
		o.metrics.PageFetched(metrics.KindListing, err)
		if err != nil {
			pr.err = err
			return pr
		}
	}
	pr.finalURL = res.FinalURL

	doc, err := extract.Parse(res.HTML)
	if err != nil {
		pr.err = err
		return pr
	}
	raws, err := o.extractor.Extract(doc, sm, r.listing, pr.finalURL, job.seq)
	if err != nil {
		pr.err = err
		return pr
	}

	pr.records = make([]*models.Record, 0, len(raws))
	for _, raw := range raws {
		pr.records = append(pr.records, o.cleaner.Clean(raw, r.listing))
	}
	pr.candidates, pr.reason = o.paginator.Candidates(doc, pr.finalURL, sm)

	slog.Debug("page scraped", "url", job.url, "page", job.seq, "items", len(raws), "engine", res.EngineName)
	return pr
}

// pageFailed counts and logs a per-page failure.
func (r *run) pageFailed(kind, pageURL string, err error) {
	code := models.CodeOf(err)
	switch {
	case kind == metrics.KindDetail:
		r.result.Stats.DetailPagesFailed++
	case code == models.ErrCodeExtraction:
		r.result.Stats.ExtractionFailures++
	default:
		r.result.Stats.PagesFailed++
	}
	r.result.Stats.CountFailure(code)
	slog.Warn("page failed", "kind", kind, "url", pageURL, "code", code, "error", err)
}

// postProcess drops records with every field null and, with Dedupe on,
// records whose values repeat an earlier record. Order is preserved.
func (r *run) postProcess(records []*models.Record) []*models.Record {
	kept := make([]*models.Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Empty() {
			r.result.Stats.RecordsDropped++
			continue
		}
		if r.opts.Dedupe {
			key := rec.ContentKey()
			if _, dup := seen[key]; dup {
				r.result.Stats.DuplicatesRemoved++
				continue
			}
			seen[key] = struct{}{}
		}
		kept = append(kept, rec)
	}
	return kept
}

func (o *Orchestrator) report(r *run, stage Stage) {
	o.reportRecords(r, stage, len(r.result.Records))
}

func (o *Orchestrator) reportRecords(r *run, stage Stage, records int) {
	if o.progress == nil {
		return
	}
	o.progress(Progress{
		Stage:       stage,
		Pages:       r.result.Stats.PagesVisited,
		DetailPages: r.result.Stats.DetailPagesVisited,
		Records:     records,
	})
}

// errCanceled reports whether err is ctx cancellation rather than a page
// failure.
func errCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
