package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/models"
)

func TestIsAdDomain(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"pagead2.googlesyndication.com", true},
		{"CDN.Cookielaw.org", true},
		{"directory.example.org", false},
		{"net", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, isAdDomain(tt.host))
		})
	}
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, models.ErrCodeTimeout, categorizeError(context.DeadlineExceeded, "x").Code)
	assert.Equal(t, models.ErrCodeNavigation, categorizeError(errors.New("net::ERR_NAME_NOT_RESOLVED"), "x").Code)

	coded := models.NewScrapeError(models.ErrCodeFetch, "HTTP 500", nil)
	assert.Same(t, coded, categorizeError(fmt.Errorf("rod: %w", coded), "x"))
}

func TestToHeadersMap(t *testing.T) {
	m := toHeadersMap(map[string]string{"Referer": "https://www.google.com/"})
	assert.Equal(t, "https://www.google.com/", m["Referer"].Str())
}

func TestBrowserIsLazy(t *testing.T) {
	b := NewBrowser(config.BrowserConfig{MaxPages: 3}, nil)
	stats := b.Stats()
	assert.Equal(t, 3, stats.MaxPages)
	assert.Zero(t, stats.ActivePages)
	assert.Zero(t, stats.BrowserPID)
	b.Close()
}
