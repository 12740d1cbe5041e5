package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/dirscrape/models"
)

var directoryHTML = `<html><head><title> Members </title></head><body><ul>` +
	strings.Repeat(`<li class="member"><h3>Ada Lovelace</h3><p>Analyst at the London office of the engine society.</p></li>`, 5) +
	`</ul></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(directoryHTML))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"members": []}`))
	})
	mux.HandleFunc("/shell", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div id="root"></div><script src="/app.js"></script></body></html>`))
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><head><title>Caf\xe9</title></head><body></body></html>"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEngineFetch(t *testing.T) {
	srv := newSite(t)
	e := NewHTTPEngine(HTTPOptions{})

	res, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/members"})
	require.NoError(t, err)
	assert.Equal(t, "Members", res.Title)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "http", res.EngineName)
	assert.Equal(t, srv.URL+"/members", res.FinalURL)
	assert.Contains(t, res.HTML, "Ada Lovelace")
}

func TestHTTPEngineFailures(t *testing.T) {
	srv := newSite(t)
	tests := []struct {
		name string
		path string
		opts HTTPOptions
	}{
		{"not found", "/missing", HTTPOptions{}},
		{"not html", "/data.json", HTTPOptions{}},
		{"javascript shell", "/shell", HTTPOptions{RejectJSShell: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPEngine(tt.opts).Fetch(context.Background(), &FetchRequest{URL: srv.URL + tt.path})
			require.Error(t, err)
			assert.Equal(t, models.ErrCodeFetch, models.CodeOf(err))
			assert.True(t, models.IsPageFailure(err))
		})
	}

	// Without the shell check the same page is accepted.
	_, err := NewHTTPEngine(HTTPOptions{}).Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/shell"})
	assert.NoError(t, err)
}

func TestHTTPEngineDecodesCharset(t *testing.T) {
	srv := newSite(t)
	res, err := NewHTTPEngine(HTTPOptions{}).Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/latin1"})
	require.NoError(t, err)
	assert.Equal(t, "Café", res.Title)
}

func TestFetcherTimeoutIsPerPage(t *testing.T) {
	srv := newSite(t)
	f := NewFetcher(NewHTTPEngine(HTTPOptions{}), FetchRequest{Timeout: 50 * time.Millisecond})

	_, err := f.FetchPage(context.Background(), srv.URL+"/slow")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	assert.True(t, models.IsPageFailure(err))
}

func TestFetcherReturnsParentCancellation(t *testing.T) {
	srv := newSite(t)
	f := NewFetcher(NewHTTPEngine(HTTPOptions{}), FetchRequest{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchPage(ctx, srv.URL+"/members")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetcherWrapsPlainErrors(t *testing.T) {
	f := NewFetcher(&fakeEngine{name: "x", err: errors.New("connection reset")}, FetchRequest{})
	_, err := f.FetchPage(context.Background(), "https://x.test/")
	assert.Equal(t, models.ErrCodeFetch, models.CodeOf(err))
}

type fakeEngine struct {
	name  string
	delay time.Duration
	err   error
	calls atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &FetchResult{HTML: "<html></html>", FinalURL: req.URL, EngineName: f.name}, nil
}

func TestDispatcherEscalatesAndRemembers(t *testing.T) {
	fast := &fakeEngine{name: "http", err: errors.New("blocked")}
	slow := &fakeEngine{name: "rod", delay: 10 * time.Millisecond}
	memory := NewDomainMemory(time.Hour)
	d := NewDispatcher([]Engine{fast, slow}, []time.Duration{0, 5 * time.Millisecond}, memory)

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://Dir.Example/a"})
	require.NoError(t, err)
	assert.Equal(t, "rod", res.EngineName)
	assert.Equal(t, "rod", memory.Get("dir.example"))

	_, err = d.Fetch(context.Background(), &FetchRequest{URL: "https://dir.example/b"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fast.calls.Load())
	assert.Equal(t, int32(2), slow.calls.Load())
}

func TestDispatcherAllFail(t *testing.T) {
	d := NewDispatcher([]Engine{
		&fakeEngine{name: "http", err: errors.New("first")},
		&fakeEngine{name: "rod", err: models.NewScrapeError(models.ErrCodeNavigation, "nav", nil)},
	}, nil, nil)

	f := NewFetcher(d, FetchRequest{})
	_, err := f.FetchPage(context.Background(), "https://x.test/")
	require.Error(t, err)
	assert.True(t, models.IsPageFailure(err))
}

func TestDispatcherReportsHeaviestError(t *testing.T) {
	nav := models.NewScrapeError(models.ErrCodeNavigation, "nav", nil)
	d := NewDispatcher([]Engine{
		&fakeEngine{name: "http", delay: 10 * time.Millisecond, err: errors.New("js shell")},
		&fakeEngine{name: "rod", err: nav},
	}, nil, nil)

	_, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://x.test/"})
	assert.ErrorIs(t, err, nav)
}

func TestDispatcherForgetsFailedEngine(t *testing.T) {
	light := &fakeEngine{name: "http"}
	rod := &fakeEngine{name: "rod", err: errors.New("browser gone")}
	memory := NewDomainMemory(time.Hour)
	memory.Set("dir.example", "rod")
	d := NewDispatcher([]Engine{light, rod}, []time.Duration{0, time.Second}, memory)

	res, err := d.Fetch(context.Background(), &FetchRequest{URL: "https://dir.example/a"})
	require.NoError(t, err)
	assert.Equal(t, "http", res.EngineName)
	assert.Equal(t, "http", memory.Get("dir.example"))
	assert.Equal(t, int32(1), rod.calls.Load())
}

func TestDomainMemoryExpires(t *testing.T) {
	dm := NewDomainMemory(10 * time.Millisecond)
	dm.Set("x.test", "rod")
	assert.Equal(t, "rod", dm.Get("x.test"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "", dm.Get("x.test"))

	var nilMemory *DomainMemory
	nilMemory.Set("x.test", "rod")
	assert.Equal(t, "", nilMemory.Get("x.test"))
	assert.Zero(t, nilMemory.Len())
}

func TestNeedsBrowser(t *testing.T) {
	long := strings.Repeat("A directory entry with plenty of visible text. ", 20)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"little text", `<html><body><p>Loading…</p></body></html>`, true},
		{"empty root", `<html><body><div id="app"></div><p>` + long + `</p></body></html>`, true},
		{"noscript warning", `<html><body><noscript>You need to enable JavaScript to run this app.</noscript><p>` + long + `</p></body></html>`, true},
		{"server rendered", `<html><body><p>` + long + `</p></body></html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsBrowser(tt.html))
		})
	}
}

func TestBuild(t *testing.T) {
	render := func(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
		return &FetchResult{HTML: "<html></html>"}, nil
	}

	f, err := Build(BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, ModeHTTP, f.Name())

	f, err = Build(BuildOptions{Mode: ModeAuto, Render: render})
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, f.Name())

	f, err = Build(BuildOptions{Mode: ModeBrowser, Render: render})
	require.NoError(t, err)
	assert.Equal(t, "rod", f.Name())

	_, err = Build(BuildOptions{Mode: ModeBrowser})
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))

	_, err = Build(BuildOptions{Mode: "ftp"})
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
}
