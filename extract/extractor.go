package extract

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/dirscrape/models"
)

// Parse builds a document from raw HTML.
func Parse(rawHTML string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "failed to parse page HTML", err)
	}
	return doc, nil
}

// Extractor applies a SelectorMap to documents. Compiled selectors are
// memoized, so one Extractor should be shared across a run.
// It is safe for concurrent use.
type Extractor struct {
	compiled sync.Map // selector string -> *Selector or error
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

type compileResult struct {
	sel *Selector
	err error
}

func (e *Extractor) compile(sel string) (*Selector, error) {
	if v, ok := e.compiled.Load(sel); ok {
		r := v.(compileResult)
		return r.sel, r.err
	}
	s, err := CompileSelector(sel)
	e.compiled.Store(sel, compileResult{sel: s, err: err})
	return s, err
}

// Extract returns one RawRecord per container matched by the item selector.
//
// An empty item selector treats the whole document as a single container.
// Zero matches yield an empty slice and no error. Fields whose selector is
// empty, invalid, or matches nothing yield "".
func (e *Extractor) Extract(doc *goquery.Document, sm *models.SelectorMap, schema *models.Schema, pageURL string, page int) ([]models.RawRecord, error) {
	containers, err := e.containers(doc, sm.ItemSelector)
	if err != nil {
		return nil, err
	}

	records := make([]models.RawRecord, 0, containers.Length())
	containers.Each(func(i int, item *goquery.Selection) {
		raw := models.RawRecord{
			Values:    make(map[string]string, len(schema.Fields)),
			SourceURL: pageURL,
			Page:      page,
			Item:      i + 1,
		}
		for _, f := range schema.Fields {
			raw.Values[f.Name] = e.fieldValue(item, sm.Selector(f.Name), f)
		}
		records = append(records, raw)
	})

	return records, nil
}

func (e *Extractor) containers(doc *goquery.Document, itemSelector string) (*goquery.Selection, error) {
	if strings.TrimSpace(itemSelector) == "" {
		return doc.Selection, nil
	}
	sel, err := e.compile(itemSelector)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "item selector does not compile", err)
	}
	return sel.Select(doc.Selection), nil
}

func (e *Extractor) fieldValue(item *goquery.Selection, selector string, f models.Field) string {
	if strings.TrimSpace(selector) == "" {
		return ""
	}
	sel, err := e.compile(selector)
	if err != nil {
		slog.Debug("field selector does not compile", "field", f.Name, "selector", selector, "error", err)
		return ""
	}

	match := sel.SelectFirst(item)
	if match.Length() == 0 {
		return ""
	}
	return ValueOf(match, f.Kind)
}

// ValueOf reads a field's raw value from a matched element according to
// its kind.
func ValueOf(match *goquery.Selection, kind models.FieldKind) string {
	switch kind {
	case models.KindURL:
		if link := LinkOf(match); link != "" {
			return link
		}
	case models.KindEmail:
		if addr := MailtoOf(match); addr != "" {
			return addr
		}
	}

	text := Text(match)
	if strings.TrimSpace(text) == "" {
		return attrFallback(match)
	}
	return text
}

// Select returns every element under root matched by selector, in document
// order, using the memoized compiled form.
func (e *Extractor) Select(root *goquery.Selection, selector string) (*goquery.Selection, error) {
	sel, err := e.compile(selector)
	if err != nil {
		return nil, err
	}
	return sel.Select(root), nil
}
