package crawl

import (
	"errors"
	"time"

	"github.com/use-agent/dirscrape/models"
)

// Defaults applied to zero-valued Options.
const (
	DefaultMaxPages      = 50
	DefaultMaxConcurrent = 5
)

// Options configures one run.
type Options struct {
	// URL is the first listing page.
	URL string

	Schema *models.Schema

	// DetailSchema enables the detail pass. DetailURLField names the
	// listing field that holds each record's detail page URL.
	DetailSchema   *models.Schema
	DetailURLField string

	// MaxPages caps listing pages, the first page included.
	MaxPages int

	// MaxConcurrent caps in-flight fetches.
	MaxConcurrent int

	// Dedupe removes records whose field values equal an earlier record's.
	Dedupe bool

	// IncludeProvenance is copied to the result for serialization.
	IncludeProvenance bool

	// RequestDelay is the minimum spacing between fetch starts.
	RequestDelay time.Duration
}

// prepare validates the options before any network activity and fills
// defaults. It returns the listing schema used for extraction, which
// differs from Schema only in that the detail URL field is cleaned as a URL.
func (o *Options) prepare() (*models.Schema, error) {
	if !validStartURL(o.URL) {
		return nil, models.ConfigError("url must be an absolute http(s) URL, got %q", o.URL)
	}
	if o.Schema == nil {
		return nil, models.ConfigError("schema is required")
	}
	if err := o.Schema.Validate(); err != nil {
		return nil, err
	}
	if o.MaxPages < 0 {
		return nil, models.ConfigError("max pages must be positive, got %d", o.MaxPages)
	}
	if o.MaxConcurrent < 0 {
		return nil, models.ConfigError("max concurrent must be positive, got %d", o.MaxConcurrent)
	}
	if o.RequestDelay < 0 {
		return nil, models.ConfigError("request delay must not be negative")
	}
	if o.MaxPages == 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}

	listing := o.Schema
	if o.DetailSchema == nil {
		if o.DetailURLField != "" {
			return nil, models.ConfigError("detail URL field %q given without a detail schema", o.DetailURLField)
		}
		return listing, nil
	}

	if err := o.DetailSchema.Validate(); err != nil {
		var se *models.ScrapeError
		if errors.As(err, &se) {
			return nil, models.ConfigError("detail schema: %s", se.Message)
		}
		return nil, err
	}
	if o.DetailURLField == "" {
		return nil, models.ConfigError("a detail schema needs a detail URL field")
	}
	field, ok := o.Schema.Field(o.DetailURLField)
	if !ok {
		return nil, models.ConfigError("detail URL field %q is not in the listing schema", o.DetailURLField)
	}
	for _, name := range o.DetailSchema.Names() {
		if o.Schema.Has(name) {
			return nil, models.ConfigError("detail field %q collides with a listing field", name)
		}
	}
	if field.Kind != models.KindURL {
		listing = listing.WithKind(field.Name, models.KindURL)
	}
	return listing, nil
}
