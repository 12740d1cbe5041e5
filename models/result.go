package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// RunStats counts what happened during a run. Per-page failures are only
// counted here, never itemized.
type RunStats struct {
	PagesVisited       int            `json:"pages_visited"`
	PagesFailed        int            `json:"pages_failed"`
	ExtractionFailures int            `json:"extraction_failures"`
	FailuresByCode     map[string]int `json:"failures_by_code,omitempty"`
	DuplicatePages     int            `json:"duplicate_pages"`

	DetailPagesVisited int `json:"detail_pages_visited"`
	DetailPagesFailed  int `json:"detail_pages_failed"`

	RecordsDropped    int `json:"records_dropped"`
	DuplicatesRemoved int `json:"duplicates_removed"`

	InferenceCalls int `json:"inference_calls"`

	Elapsed   time.Duration `json:"-"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

// CountFailure records a per-page failure under its error code.
func (s *RunStats) CountFailure(code string) {
	if s.FailuresByCode == nil {
		s.FailuresByCode = make(map[string]int)
	}
	s.FailuresByCode[code]++
}

// ScrapeResult is the outcome of a successful run. An empty Records slice
// is a valid result.
type ScrapeResult struct {
	RunID           string       `json:"run_id"`
	URL             string       `json:"url"`
	Records         []*Record    `json:"records"`
	Selectors       *SelectorMap `json:"selectors"`
	DetailSelectors *SelectorMap `json:"detail_selectors,omitempty"`
	Visited         []string     `json:"visited"`
	Stats           RunStats     `json:"stats"`

	// IncludeProvenance makes MarshalJSON emit "_provenance" on each record.
	IncludeProvenance bool `json:"-"`
}

// RecordsJSON renders the records as a JSON array in order.
func (r *ScrapeResult) RecordsJSON(withProvenance bool) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range r.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		var (
			b   []byte
			err error
		)
		if withProvenance {
			b, err = rec.MarshalJSONWithProvenance()
		} else {
			b, err = rec.MarshalJSON()
		}
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON honours IncludeProvenance for the records array.
func (r ScrapeResult) MarshalJSON() ([]byte, error) {
	records, err := r.RecordsJSON(r.IncludeProvenance)
	if err != nil {
		return nil, err
	}
	type alias ScrapeResult
	return json.Marshal(struct {
		alias
		Records json.RawMessage `json:"records"`
	}{alias: alias(r), Records: records})
}
