// Package cleaner turns raw extracted fragments into normalized records.
package cleaner

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/use-agent/dirscrape/models"
)

// Cleaner normalizes RawRecords into Records. It never drops a record:
// values that fail validation degrade to null.
//
// The validator is created once and reused (goroutine-safe).
type Cleaner struct {
	validate *validator.Validate
}

// NewCleaner initialises the Cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Clean produces exactly one Record with the schema's field set.
func (c *Cleaner) Clean(raw models.RawRecord, schema *models.Schema) *models.Record {
	rec := models.NewRecord(schema.Names())
	rec.Provenance = models.Provenance{
		SourceURL: raw.SourceURL,
		Page:      raw.Page,
		Item:      raw.Item,
	}

	for _, f := range schema.Fields {
		rec.Set(f.Name, c.Value(raw.Values[f.Name], f.Kind, raw.SourceURL))
	}
	return rec
}

// Value normalizes a single raw value by kind. nil means null.
func (c *Cleaner) Value(raw string, kind models.FieldKind, baseURL string) *string {
	var (
		v  string
		ok bool
	)
	switch kind {
	case models.KindEmail:
		v, ok = c.Email(raw)
	case models.KindURL:
		v, ok = c.URL(raw, baseURL)
	default:
		v, ok = Text(raw)
	}
	if !ok {
		return nil
	}
	return &v
}

// Text trims and collapses internal whitespace.
func Text(raw string) (string, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	return s, s != ""
}

// addrToken finds the first address-shaped token in free text,
// e.g. "Email: ada@example.test (work)".
var addrToken = regexp.MustCompile(`[^\s<>()\[\],;:"'` + "`" + `]+@[^\s<>()\[\],;:"'` + "`" + `]+`)

// Email extracts, lower-cases and validates an email address.
func (c *Cleaner) Email(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "mailto:")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}

	// Common obfuscations.
	s = strings.NewReplacer(" [at] ", "@", "[at]", "@", "(at)", "@", " [dot] ", ".", "[dot]", ".", "(dot)", ".").Replace(s)

	tok := addrToken.FindString(s)
	tok = strings.TrimRight(tok, ".")
	if tok == "" {
		return "", false
	}
	if err := c.validate.Var(tok, "required,email"); err != nil {
		return "", false
	}
	return tok, true
}

// URL resolves raw against baseURL and requires an absolute http(s) URL
// with a host. The fragment is dropped.
func (c *Cleaner) URL(raw, baseURL string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(s), "www.") {
		s = "https://" + s
	}

	ref, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		// javascript:, mailto:, tel:, data: ...
		return "", false
	}

	resolved := ref
	if !ref.IsAbs() {
		base, err := url.Parse(strings.TrimSpace(baseURL))
		if err != nil || !base.IsAbs() {
			return "", false
		}
		resolved = base.ResolveReference(ref)
	}

	resolved.Fragment = ""
	resolved.RawFragment = ""
	if (resolved.Scheme != "http" && resolved.Scheme != "https") || resolved.Host == "" {
		return "", false
	}

	out := resolved.String()
	if err := c.validate.Var(out, "http_url"); err != nil {
		return "", false
	}
	return out, true
}
