package engine

import (
	"time"

	"github.com/use-agent/dirscrape/models"
)

// Fetch modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
	ModeAuto    = "auto"
)

// BuildOptions selects and configures the engine behind a Fetcher.
type BuildOptions struct {
	Mode string

	// Render drives the browser; required for ModeBrowser and ModeAuto.
	Render RenderFunc

	HTTP HTTPOptions

	// EscalationDelays and Memory configure the ModeAuto race.
	EscalationDelays []time.Duration
	Memory           *DomainMemory

	// Request is the per-page template (timeout, headers, browser options).
	Request FetchRequest
}

// ValidMode reports whether mode names a supported fetch strategy.
func ValidMode(mode string) bool {
	switch mode {
	case ModeHTTP, ModeBrowser, ModeAuto:
		return true
	}
	return false
}

// Build returns a Fetcher for the requested mode:
//
//	http    – utls HTTP engine only
//	browser – rod engine only
//	auto    – staged race http → rod → rod-stealth with domain memory; the
//	          HTTP tier rejects JavaScript shells so the race escalates
func Build(opts BuildOptions) (*Fetcher, error) {
	if opts.Mode == "" {
		opts.Mode = ModeHTTP
	}
	if !ValidMode(opts.Mode) {
		return nil, models.ConfigError("unknown fetch mode %q (want http, browser or auto)", opts.Mode)
	}
	if opts.Mode != ModeHTTP && opts.Render == nil {
		return nil, models.ConfigError("fetch mode %q needs a browser", opts.Mode)
	}

	var eng Engine
	switch opts.Mode {
	case ModeHTTP:
		eng = NewHTTPEngine(opts.HTTP)
	case ModeBrowser:
		eng = NewRodEngine(opts.Render, opts.Request.Stealth)
	case ModeAuto:
		httpOpts := opts.HTTP
		httpOpts.RejectJSShell = true
		eng = NewDispatcher([]Engine{
			NewHTTPEngine(httpOpts),
			NewRodEngine(opts.Render, false),
			NewRodEngine(opts.Render, true),
		}, opts.EscalationDelays, opts.Memory)
	}
	return NewFetcher(eng, opts.Request), nil
}
