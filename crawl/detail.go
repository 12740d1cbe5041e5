package crawl

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/extract"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/models"
)

// detailTarget is one distinct detail page and the listing records that
// point at it.
type detailTarget struct {
	url     string
	records []*models.Record
}

type detailFetch struct {
	res *engine.FetchResult
	err error
}

// detailPass enriches records with fields from their detail pages. Every
// record gains the detail fields, null unless the page yields them. Pages
// are fetched in batches of MaxConcurrent; selectors are inferred once,
// from the first detail page that fetches successfully.
func (o *Orchestrator) detailPass(ctx context.Context, r *run, records []*models.Record) error {
	schema := r.opts.DetailSchema
	names := schema.Names()

	var targets []*detailTarget
	byURL := make(map[string]*detailTarget)
	for _, rec := range records {
		rec.AddFields(names)
		link, ok := rec.Get(r.opts.DetailURLField)
		if !ok {
			continue
		}
		rec.Provenance.DetailURL = link
		key := NormalizeURL(link)
		t, seen := byURL[key]
		if !seen {
			t = &detailTarget{url: link}
			byURL[key] = t
			targets = append(targets, t)
		}
		t.records = append(t.records, rec)
	}
	if len(targets) == 0 {
		return nil
	}
	o.report(r, StageDetail)

	var sm *models.SelectorMap
	for start := 0; start < len(targets); start += r.opts.MaxConcurrent {
		batch := targets[start:min(start+r.opts.MaxConcurrent, len(targets))]
		fetched, err := o.fetchDetails(ctx, r, batch)
		if err != nil {
			return err
		}

		if sm == nil {
			for _, f := range fetched {
				if f.err == nil {
					if sm, err = o.selectors(ctx, r, schema, f.res, true); err != nil {
						return err
					}
					r.result.DetailSelectors = sm
					break
				}
			}
		}

		for i, t := range batch {
			f := fetched[i]
			if f.err != nil {
				if !models.IsPageFailure(f.err) {
					return f.err
				}
				r.detailFailed(t, f.err)
				continue
			}
			r.result.Stats.DetailPagesVisited++

			detail, err := o.extractDetail(f.res, sm, schema)
			if err != nil {
				if !models.IsPageFailure(err) {
					return err
				}
				r.detailFailed(t, err)
				continue
			}
			for _, rec := range t.records {
				rec.Merge(detail)
			}
		}
		o.reportRecords(r, StageDetail, len(records))
	}
	return nil
}

// fetchDetails fetches one batch concurrently; results are in batch order.
func (o *Orchestrator) fetchDetails(ctx context.Context, r *run, batch []*detailTarget) ([]detailFetch, error) {
	fetched := make([]detailFetch, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)
	for i, t := range batch {
		g.Go(func() error {
			res, err := o.fetch(gctx, r, t.url)
			if err != nil && errCanceled(ctx, err) {
				return err
			}
			o.metrics.PageFetched(metrics.KindDetail, err)
			fetched[i] = detailFetch{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// extractDetail reads the first container of a detail page into a record
// holding only the detail fields.
func (o *Orchestrator) extractDetail(res *engine.FetchResult, sm *models.SelectorMap, schema *models.Schema) (*models.Record, error) {
	doc, err := extract.Parse(res.HTML)
	if err != nil {
		return nil, err
	}
	raws, err := o.extractor.Extract(doc, sm, schema, res.FinalURL, 0)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "detail selectors matched nothing on "+res.FinalURL, nil)
	}
	return o.cleaner.Clean(raws[0], schema), nil
}

// detailFailed leaves the detail fields null and notes the error on every
// record pointing at the page.
func (r *run) detailFailed(t *detailTarget, err error) {
	r.pageFailed(metrics.KindDetail, t.url, err)
	msg := err.Error()
	var se *models.ScrapeError
	if errors.As(err, &se) {
		msg = se.Code + ": " + se.Message
	}
	for _, rec := range t.records {
		rec.Provenance.DetailError = msg
	}
}
