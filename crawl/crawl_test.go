package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/dirscrape/cache"
	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/llm"
	"github.com/use-agent/dirscrape/models"
)

// fakeInferrer hands out fixed selector maps and counts calls.
type fakeInferrer struct {
	listing *models.SelectorMap
	detail  *models.SelectorMap
	err     error
	calls   atomic.Int32
}

func (f *fakeInferrer) InferSelectors(ctx context.Context, req llm.InferRequest) (*models.SelectorMap, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if req.Detail {
		return f.detail.Clone(), nil
	}
	return f.listing.Clone(), nil
}

func newInferrer() *fakeInferrer {
	return &fakeInferrer{
		listing: &models.SelectorMap{
			ItemSelector: "li.member",
			Fields: map[string]string{
				"name":        "h3.name",
				"email":       "a.email",
				"profile_url": "a.profile",
			},
			Pagination: "a.next",
		},
		detail: &models.SelectorMap{
			Fields: map[string]string{"phone": "span.phone"},
		},
	}
}

func memberSchema() *models.Schema {
	return models.NewSchema(
		"name", "full name",
		"email", "contact email",
		"profile_url", "link to the member's profile",
	)
}

func memberItem(page, item int) string {
	return fmt.Sprintf(`<li class="member"><h3 class="name"> Person %d-%d </h3>`+
		`<a class="email" href="mailto:P%d%d@Example.TEST">P%d%d@Example.TEST</a>`+
		`<a class="profile" href="/people/%d-%d">Profile</a></li>`,
		page, item, page, item, page, item, page, item)
}

type fixture struct {
	srv  *httptest.Server
	hits atomic.Int32
}

// newDirectory serves a three-page member directory whose last page links
// to itself, plus a few pages for edge cases.
func newDirectory(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	html := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>" + body + "</body></html>"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if n < 1 || n > 3 {
			http.NotFound(w, r)
			return
		}
		next := min(n+1, 3)
		html(w, `<ul class="members">`+memberItem(n, 1)+memberItem(n, 2)+`</ul>`+
			fmt.Sprintf(`<a class="next" href="/dir?page=%d">Next</a>`, next))
	})
	mux.HandleFunc("/people/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/people/")
		if id == "2-2" {
			http.NotFound(w, r)
			return
		}
		html(w, `<div class="card"><span class="phone">555-`+strings.ReplaceAll(id, "-", "")+`</span></div>`)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		html(w, `<ul>`+memberItem(1, 1)+memberItem(1, 2)+`</ul>`+
			fmt.Sprintf(`<a class="next" href="/loop?page=%d">Next</a>`, n+1))
	})
	mux.HandleFunc("/dupes", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<ul>`+memberItem(1, 1)+memberItem(1, 1)+`<li class="member"></li></ul>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<ul>`+memberItem(1, 1)+`</ul><a class="next" href="/nowhere">Next</a>`)
	})

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newOrchestrator(inf Inferrer, opts ...Option) *Orchestrator {
	fetcher := engine.NewFetcher(engine.NewHTTPEngine(engine.HTTPOptions{}), engine.FetchRequest{Timeout: 5 * time.Second})
	return New(fetcher, inf, opts...)
}

func value(t *testing.T, r *models.Record, field string) string {
	t.Helper()
	v, ok := r.Get(field)
	require.True(t, ok, "field %s is null", field)
	return v
}

func TestRunFollowsPaginationInOrder(t *testing.T) {
	site := newDirectory(t)
	inf := newInferrer()
	o := newOrchestrator(inf)

	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	require.NoError(t, err)

	require.Len(t, res.Records, 6)
	want := []string{"Person 1-1", "Person 1-2", "Person 2-1", "Person 2-2", "Person 3-1", "Person 3-2"}
	for i, rec := range res.Records {
		assert.Equal(t, want[i], value(t, rec, "name"))
		assert.Equal(t, []string{"name", "email", "profile_url"}, rec.Fields)
	}
	assert.Equal(t, "p11@example.test", value(t, res.Records[0], "email"))
	assert.Equal(t, site.srv.URL+"/people/3-2", value(t, res.Records[5], "profile_url"))
	assert.Equal(t, 2, res.Records[3].Provenance.Page)
	assert.Equal(t, 2, res.Records[3].Provenance.Item)

	assert.Equal(t, 3, res.Stats.PagesVisited)
	assert.Equal(t, 1, res.Stats.InferenceCalls)
	assert.Equal(t, int32(1), inf.calls.Load())
	assert.Len(t, res.Visited, 3)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "li.member", res.Selectors.ItemSelector)
}

func TestRunStopsAtMaxPages(t *testing.T) {
	site := newDirectory(t)
	o := newOrchestrator(newInferrer())

	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema(), MaxPages: 2})
	require.NoError(t, err)
	assert.Len(t, res.Records, 4)
	assert.Equal(t, 2, res.Stats.PagesVisited)
	assert.LessOrEqual(t, len(res.Visited), 2)
}

func TestRunSharesCachedSelectors(t *testing.T) {
	site := newDirectory(t)
	inf := newInferrer()
	o := newOrchestrator(inf, WithCache(cache.New(10, 0)))
	opts := Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema(), MaxPages: 1}

	first, err := o.Run(context.Background(), opts)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, int32(1), inf.calls.Load())
	assert.Equal(t, 1, first.Stats.InferenceCalls)
	assert.Equal(t, 0, second.Stats.InferenceCalls)
	assert.Len(t, second.Records, 2)
}

func TestRunDetailPass(t *testing.T) {
	site := newDirectory(t)
	inf := newInferrer()
	o := newOrchestrator(inf)

	res, err := o.Run(context.Background(), Options{
		URL:            site.srv.URL + "/dir?page=1",
		Schema:         memberSchema(),
		DetailSchema:   models.NewSchema("phone", "phone number"),
		DetailURLField: "profile_url",
		MaxPages:       2,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	for _, rec := range res.Records {
		assert.Equal(t, []string{"name", "email", "profile_url", "phone"}, rec.Fields)
	}
	assert.Equal(t, "555-11", value(t, res.Records[0], "phone"))
	assert.Equal(t, "555-21", value(t, res.Records[2], "phone"))

	failed := res.Records[3]
	assert.Equal(t, "Person 2-2", value(t, failed, "name"))
	_, ok := failed.Get("phone")
	assert.False(t, ok)
	assert.Contains(t, failed.Provenance.DetailError, models.ErrCodeFetch)

	assert.Equal(t, 3, res.Stats.DetailPagesVisited)
	assert.Equal(t, 1, res.Stats.DetailPagesFailed)
	assert.Equal(t, 1, res.Stats.FailuresByCode[models.ErrCodeFetch])
	assert.Equal(t, 2, res.Stats.InferenceCalls)
	require.NotNil(t, res.DetailSelectors)
	assert.Equal(t, "span.phone", res.DetailSelectors.Fields["phone"])
}

// concurrencyMeter tracks how many requests a handler serves at once.
type concurrencyMeter struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (m *concurrencyMeter) enter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
}

func (m *concurrencyMeter) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func (m *concurrencyMeter) highest() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func TestRunDetailPassRespectsMaxConcurrent(t *testing.T) {
	const members = 9
	var meter concurrencyMeter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meter.enter()
		defer meter.leave()
		time.Sleep(30 * time.Millisecond)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if strings.HasPrefix(r.URL.Path, "/people/") {
			_, _ = w.Write([]byte(`<html><body><span class="phone">555</span></body></html>`))
			return
		}
		var b strings.Builder
		b.WriteString("<html><body><ul>")
		for i := 1; i <= members; i++ {
			b.WriteString(memberItem(1, i))
		}
		b.WriteString("</ul></body></html>")
		_, _ = w.Write([]byte(b.String()))
	}))
	defer srv.Close()

	res, err := newOrchestrator(newInferrer()).Run(context.Background(), Options{
		URL:            srv.URL + "/members",
		Schema:         memberSchema(),
		DetailSchema:   models.NewSchema("phone", "phone number"),
		DetailURLField: "profile_url",
		MaxConcurrent:  2,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, members)
	assert.Equal(t, members, res.Stats.DetailPagesVisited)
	assert.LessOrEqual(t, meter.highest(), 2)
	assert.Positive(t, meter.highest())
}

func TestRunFirstPageFailureIsFatal(t *testing.T) {
	site := newDirectory(t)
	inf := newInferrer()
	o := newOrchestrator(inf)

	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=9", Schema: memberSchema()})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, models.ErrCodeFetch, models.CodeOf(err))
	assert.Equal(t, int32(0), inf.calls.Load())
}

func TestRunLaterPageFailureIsCounted(t *testing.T) {
	site := newDirectory(t)
	o := newOrchestrator(newInferrer())

	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/broken", Schema: memberSchema()})
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Stats.PagesVisited)
	assert.Equal(t, 1, res.Stats.PagesFailed)
	assert.Equal(t, 1, res.Stats.FailuresByCode[models.ErrCodeFetch])
	assert.Equal(t, []string{site.srv.URL + "/broken", site.srv.URL + "/nowhere"}, res.Visited)
}

func TestRunConfigErrorsBeforeNetwork(t *testing.T) {
	site := newDirectory(t)
	base := site.srv.URL + "/dir?page=1"

	cases := map[string]Options{
		"relative url":       {URL: "/dir", Schema: memberSchema()},
		"ftp url":            {URL: "ftp://dir.test/", Schema: memberSchema()},
		"no schema":          {URL: base},
		"empty schema":       {URL: base, Schema: &models.Schema{}},
		"negative pages":     {URL: base, Schema: memberSchema(), MaxPages: -1},
		"field without":      {URL: base, Schema: memberSchema(), DetailURLField: "profile_url"},
		"schema without":     {URL: base, Schema: memberSchema(), DetailSchema: models.NewSchema("phone", "p")},
		"unknown link field": {URL: base, Schema: memberSchema(), DetailSchema: models.NewSchema("phone", "p"), DetailURLField: "homepage"},
		"colliding field":    {URL: base, Schema: memberSchema(), DetailSchema: models.NewSchema("name", "p"), DetailURLField: "profile_url"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			inf := newInferrer()
			_, err := newOrchestrator(inf).Run(context.Background(), opts)
			require.Error(t, err)
			assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
			assert.Equal(t, int32(0), inf.calls.Load())
		})
	}
	assert.Equal(t, int32(0), site.hits.Load())
}

// failingFetcher fails one URL with an error that carries no page code.
type failingFetcher struct {
	engine.PageFetcher
	url string
	err error
}

func (f *failingFetcher) FetchPage(ctx context.Context, pageURL string) (*engine.FetchResult, error) {
	if pageURL == f.url {
		return nil, f.err
	}
	return f.PageFetcher.FetchPage(ctx, pageURL)
}

func TestRunUncodedPageErrorEndsRun(t *testing.T) {
	site := newDirectory(t)
	boom := errors.New("fetcher bug")
	fetcher := &failingFetcher{
		PageFetcher: engine.NewFetcher(engine.NewHTTPEngine(engine.HTTPOptions{}), engine.FetchRequest{Timeout: 5 * time.Second}),
		url:         site.srv.URL + "/dir?page=2",
		err:         boom,
	}

	_, err := New(fetcher, newInferrer()).Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	assert.ErrorIs(t, err, boom)
}

func TestRunInferenceFailureIsFatal(t *testing.T) {
	site := newDirectory(t)

	inf := newInferrer()
	inf.err = errors.New("model returned prose")
	_, err := newOrchestrator(inf).Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	assert.Equal(t, models.ErrCodeInference, models.CodeOf(err))

	inf.err = models.NewScrapeError(models.ErrCodeLLMAuthFailure, "bad key", nil)
	_, err = newOrchestrator(inf).Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	assert.Equal(t, models.ErrCodeLLMAuthFailure, models.CodeOf(err))
}

func TestRunDropsEmptyAndDedupes(t *testing.T) {
	site := newDirectory(t)
	o := newOrchestrator(newInferrer())
	opts := Options{URL: site.srv.URL + "/dupes", Schema: memberSchema(), Dedupe: true}

	res, err := o.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Stats.RecordsDropped)
	assert.Equal(t, 1, res.Stats.DuplicatesRemoved)

	opts.Dedupe = false
	res, err = o.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 0, res.Stats.DuplicatesRemoved)
}

func TestRunStopsOnRepeatedPage(t *testing.T) {
	site := newDirectory(t)
	o := newOrchestrator(newInferrer())

	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/loop?page=1", Schema: memberSchema()})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Stats.PagesVisited)
	assert.Equal(t, 1, res.Stats.DuplicatePages)
}

func TestRunRequestDelay(t *testing.T) {
	site := newDirectory(t)
	o := newOrchestrator(newInferrer())

	start := time.Now()
	res, err := o.Run(context.Background(), Options{
		URL:          site.srv.URL + "/dir?page=1",
		Schema:       memberSchema(),
		RequestDelay: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.PagesVisited)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRunCanceled(t *testing.T) {
	site := newDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newOrchestrator(newInferrer()).Run(ctx, Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunReportsProgress(t *testing.T) {
	site := newDirectory(t)
	var stages []Stage
	o := newOrchestrator(newInferrer(), WithProgress(func(p Progress) {
		stages = append(stages, p.Stage)
	}))

	_, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	require.NoError(t, err)
	require.NotEmpty(t, stages)
	assert.Equal(t, StageInfer, stages[0])
	assert.Contains(t, stages, StageCrawl)
	assert.Equal(t, StageDone, stages[len(stages)-1])
}

func TestPreview(t *testing.T) {
	site := newDirectory(t)
	inf := newInferrer()
	o := newOrchestrator(inf, WithCache(cache.New(10, 0)))

	p, err := o.Preview(context.Background(), site.srv.URL+"/dir?page=1", memberSchema(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ItemCount)
	require.Len(t, p.Samples, 1)
	assert.Equal(t, "Person 1-1", value(t, p.Samples[0], "name"))
	assert.True(t, p.Next.Continue)
	assert.Equal(t, site.srv.URL+"/dir?page=2", p.Next.URL)
	assert.Equal(t, "http", p.EngineName)
	assert.Contains(t, p.HTML, "Person 1-2")

	// The run reuses the previewed selectors.
	res, err := o.Run(context.Background(), Options{URL: site.srv.URL + "/dir?page=1", Schema: memberSchema()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.InferenceCalls)
	assert.Equal(t, int32(1), inf.calls.Load())
}

func TestPreviewRejectsBadInput(t *testing.T) {
	o := newOrchestrator(newInferrer())
	_, err := o.Preview(context.Background(), "not a url", memberSchema(), 0)
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
	_, err = o.Preview(context.Background(), "https://dir.test/", nil, 0)
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
}
