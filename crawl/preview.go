package crawl

import (
	"context"
	"log/slog"

	"github.com/use-agent/dirscrape/cache"
	"github.com/use-agent/dirscrape/extract"
	"github.com/use-agent/dirscrape/llm"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/models"
)

// DefaultPreviewSamples is the number of sample records a preview returns.
const DefaultPreviewSamples = 3

// PreviewResult is what a selector preview found on the first page.
type PreviewResult struct {
	Selectors  *models.SelectorMap
	ItemCount  int
	Samples    []*models.Record
	Next       Decision
	HTML       string
	EngineName string
}

// Preview fetches pageURL, infers fresh selectors for schema and applies
// them to that page only. The selectors replace any cached entry, so a
// following Run reuses what the preview showed.
func (o *Orchestrator) Preview(ctx context.Context, pageURL string, schema *models.Schema, samples int) (*PreviewResult, error) {
	if !validStartURL(pageURL) {
		return nil, models.ConfigError("url must be an absolute http(s) URL, got %q", pageURL)
	}
	if schema == nil {
		return nil, models.ConfigError("schema is required")
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if samples <= 0 {
		samples = DefaultPreviewSamples
	}

	res, err := o.fetcher.FetchPage(ctx, pageURL)
	o.metrics.PageFetched(metrics.KindListing, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if res.FinalURL == "" {
		res.FinalURL = pageURL
	}

	sm, err := o.inferrer.InferSelectors(ctx, llm.InferRequest{URL: res.FinalURL, HTML: res.HTML, Schema: schema})
	o.metrics.SelectorLookup(metrics.KindListing, false, err)
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
	if o.cache != nil {
		o.cache.Set(cache.Key(cache.SiteOf(res.FinalURL), schema, false), sm)
	}

	doc, err := extract.Parse(res.HTML)
	if err != nil {
		return nil, err
	}
	raws, err := o.extractor.Extract(doc, sm, schema, res.FinalURL, 1)
	if err != nil {
		return nil, err
	}

	out := &PreviewResult{
		Selectors:  sm,
		ItemCount:  len(raws),
		Samples:    make([]*models.Record, 0, min(samples, len(raws))),
		Next:       o.paginator.Next(doc, res.FinalURL, sm, map[string]bool{NormalizeURL(pageURL): true}),
		HTML:       res.HTML,
		EngineName: res.EngineName,
	}
	for _, raw := range raws[:min(samples, len(raws))] {
		out.Samples = append(out.Samples, o.cleaner.Clean(raw, schema))
	}

	slog.Info("selector preview",
		"url", pageURL,
		"item_selector", sm.ItemSelector,
		"items", out.ItemCount,
		"next", out.Next.URL,
	)
	return out, nil
}
