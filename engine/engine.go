// Package engine fetches pages. An Engine knows one way to get HTML for a
// URL; a Fetcher binds an Engine to per-run request settings and turns
// failures into per-page errors the crawler can count.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/dirscrape/models"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "rod", "rod-stealth").
	Name() string

	// Fetch retrieves the page content for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Stealth bool

	// WaitFor is a CSS selector a browser engine waits for before reading
	// the DOM. Ignored by the HTTP engine.
	WaitFor string

	// ScrollForLazyLoad asks a browser engine to scroll to the bottom of the
	// page so lazily loaded entries render.
	ScrollForLazyLoad bool
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string
}

// PageFetcher is the single capability the crawler needs: URL in, HTML out.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*FetchResult, error)
}

// Fetcher adapts an Engine to PageFetcher using a request template.
type Fetcher struct {
	engine Engine
	tmpl   FetchRequest
}

// NewFetcher wraps e. tmpl supplies headers, timeout and browser options for
// every page; its URL is ignored.
func NewFetcher(e Engine, tmpl FetchRequest) *Fetcher {
	return &Fetcher{engine: e, tmpl: tmpl}
}

// Name returns the wrapped engine's name.
func (f *Fetcher) Name() string { return f.engine.Name() }

// FetchPage fetches one page under the template's timeout. Failures come
// back as per-page *models.ScrapeError values; cancellation of ctx itself
// is returned unchanged so callers can abort.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (*FetchResult, error) {
	req := f.tmpl
	req.URL = pageURL

	fetchCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result, err := f.engine.Fetch(fetchCtx, &req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pageError(pageURL, err)
	}
	if result.FinalURL == "" {
		result.FinalURL = pageURL
	}
	return result, nil
}

// pageError keeps codes set by an engine and classifies everything else.
func pageError(pageURL string, err error) error {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewScrapeError(models.ErrCodeTimeout, "fetch timed out: "+pageURL, err)
	}
	return models.NewScrapeError(models.ErrCodeFetch, "fetch failed: "+pageURL, err)
}
