// Package scraper renders pages in a headless Chromium driven by rod. It
// backs the "browser" fetch mode and the browser tiers of "auto".
package scraper

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/models"
)

// Browser owns one Chromium process and a pool of reusable tabs. The
// process is started on first use, so commands that never render a page
// never launch it. It is safe for concurrent use.
type Browser struct {
	cfg     config.BrowserConfig
	blocked []string

	mu       sync.Mutex
	browser  *rod.Browser
	pagePool rod.Pool[rod.Page]
	pid      int
	remote   bool

	activePages atomic.Int32
}

// NewBrowser returns a Browser that will launch (or connect to
// cfg.ControlURL) lazily. blockedTypes lists resource types never loaded.
func NewBrowser(cfg config.BrowserConfig, blockedTypes []string) *Browser {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Browser{cfg: cfg, blocked: blockedTypes}
}

// ensure launches or connects to the browser once.
func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			NoSandbox(b.cfg.NoSandbox)
		if b.cfg.BrowserBin != "" {
			l = l.Bin(b.cfg.BrowserBin)
		}
		if b.cfg.DefaultProxy != "" {
			l = l.Proxy(b.cfg.DefaultProxy)
		}

		// ── Stealth flags ────────────────────────────────────────────────
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
		l.Set(flags.Flag("disable-renderer-backgrounding"))
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		u, err := l.Launch()
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
		}
		controlURL = u
		b.pid = l.PID()
		slog.Info("browser launched", "controlURL", controlURL, "pid", b.pid)
	} else {
		b.remote = true
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	b.browser = browser
	b.pagePool = rod.NewPagePool(b.cfg.MaxPages)
	slog.Info("page pool created", "maxPages", b.cfg.MaxPages, "remote", b.remote)
	return browser, nil
}

// acquire borrows a tab from the pool, creating one when the pool is empty.
func (b *Browser) acquire() (*rod.Page, error) {
	browser, err := b.ensure()
	if err != nil {
		return nil, err
	}
	page, err := b.pagePool.Get(func() (*rod.Page, error) {
		return browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to acquire page from pool", err)
	}
	return page, nil
}

// Stats returns a snapshot of the pool's current state.
func (b *Browser) Stats() models.PoolStats {
	b.mu.Lock()
	pid := b.pid
	b.mu.Unlock()
	return models.PoolStats{
		MaxPages:    b.cfg.MaxPages,
		ActivePages: int(b.activePages.Load()),
		BrowserPID:  pid,
	}
}

// Close drains the page pool and stops the browser process if this Browser
// launched it. Safe to call when the browser was never started.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return
	}

	slog.Info("browser shutting down: draining page pool")
	b.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	if !b.remote {
		if err := b.browser.Close(); err != nil {
			slog.Warn("browser close failed", "error", err)
		}
	}
	b.browser = nil
	slog.Info("browser shutdown complete")
}
