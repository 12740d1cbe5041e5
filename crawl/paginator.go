package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/dirscrape/extract"
	"github.com/use-agent/dirscrape/models"
)

// Stop reasons reported in Decision.Reason.
const (
	ReasonNext          = "next link"
	ReasonNoSelector    = "no pagination selector"
	ReasonNoCandidate   = "no next link"
	ReasonSelfLink      = "next link points to the current page"
	ReasonVisited       = "next link already visited"
	ReasonMaxPages      = "max pages reached"
	ReasonDuplicatePage = "page repeats earlier content"
	ReasonBadSelector   = "pagination selector does not compile"
)

// Decision is the paginator's verdict for one page.
type Decision struct {
	Continue bool
	URL      string
	Reason   string
}

// Paginator resolves next-page links.
type Paginator struct {
	extractor *extract.Extractor
}

// NewPaginator returns a Paginator sharing ex's compiled selectors.
func NewPaginator(ex *extract.Extractor) *Paginator {
	if ex == nil {
		ex = extract.New()
	}
	return &Paginator{extractor: ex}
}

// Next picks the next page for doc. It never mutates visited.
func (p *Paginator) Next(doc *goquery.Document, currentURL string, sm *models.SelectorMap, visited map[string]bool) Decision {
	candidates, reason := p.Candidates(doc, currentURL, sm)
	if reason != "" {
		return Decision{Reason: reason}
	}
	return Decide(candidates, currentURL, visited)
}

// Candidates returns the absolute URLs of every element matched by the
// pagination selector, in document order. A non-empty reason explains why
// there is nothing to follow.
func (p *Paginator) Candidates(doc *goquery.Document, currentURL string, sm *models.SelectorMap) ([]string, string) {
	if sm == nil || strings.TrimSpace(sm.Pagination) == "" {
		return nil, ReasonNoSelector
	}
	matches, err := p.extractor.Select(doc.Selection, sm.Pagination)
	if err != nil {
		return nil, ReasonBadSelector
	}

	base, _ := url.Parse(currentURL)
	var out []string
	matches.Each(func(_ int, s *goquery.Selection) {
		if link := resolve(base, hrefOf(s)); link != "" {
			out = append(out, link)
		}
	})
	return out, ""
}

// Decide returns the first candidate that is not the current page and has
// not been visited. Comparison uses NormalizeURL.
func Decide(candidates []string, currentURL string, visited map[string]bool) Decision {
	if len(candidates) == 0 {
		return Decision{Reason: ReasonNoCandidate}
	}
	current := NormalizeURL(currentURL)
	reason := ReasonNoCandidate
	for _, c := range candidates {
		n := NormalizeURL(c)
		switch {
		case n == current:
			reason = ReasonSelfLink
		case visited[n]:
			reason = ReasonVisited
		default:
			return Decision{Continue: true, URL: c, Reason: ReasonNext}
		}
	}
	return Decision{Reason: reason}
}

// hrefOf reads href or data-href from s, falling back to the first nested
// anchor when the selector matched a wrapper such as li.next.
func hrefOf(s *goquery.Selection) string {
	for _, attr := range []string{"href", "data-href"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if v, ok := s.Find("a[href]").First().Attr("href"); ok {
		return v
	}
	return ""
}
