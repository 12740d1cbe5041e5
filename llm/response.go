package llm

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/use-agent/dirscrape/extract"
	"github.com/use-agent/dirscrape/models"
)

// selectorResponse is the JSON object the model is asked to return.
// Selector values are kept raw so a stray array or number for one field
// does not reject the whole answer.
type selectorResponse struct {
	ListItemSelector   json.RawMessage            `json:"list_item_selector"`
	Selectors          map[string]json.RawMessage `json:"selectors"`
	PaginationSelector json.RawMessage            `json:"pagination_selector"`
	DetailLinkField    json.RawMessage            `json:"detail_link_field"`
}

// parseSelectors validates the model's reply against the schema.
//
// Field selectors that do not compile are blanked; an item or pagination
// selector that does not compile rejects the answer.
func parseSelectors(content string, req InferRequest) (*models.SelectorMap, error) {
	raw := stripFences(content)

	var resp selectorResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, "model returned invalid JSON", err)
	}
	if resp.Selectors == nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, `model response has no "selectors" object`, nil)
	}

	sm := &models.SelectorMap{
		ItemSelector: selectorString(resp.ListItemSelector),
		Pagination:   selectorString(resp.PaginationSelector),
		Fields:       make(map[string]string, len(req.Schema.Fields)),
	}
	if req.Detail {
		// Detail pages are one record each; never paginate them.
		sm.ItemSelector, sm.Pagination = "", ""
	}

	if sm.ItemSelector != "" {
		if _, err := extract.CompileSelector(sm.ItemSelector); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInference, "model returned an invalid list_item_selector", err)
		}
	}
	if sm.Pagination != "" {
		if _, err := extract.CompileSelector(sm.Pagination); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInference, "model returned an invalid pagination_selector", err)
		}
	}

	for _, f := range req.Schema.Fields {
		sel := selectorString(resp.Selectors[f.Name])
		if sel != "" {
			if _, err := extract.CompileSelector(sel); err != nil {
				slog.Warn("discarding invalid field selector", "url", req.URL, "field", f.Name, "selector", sel, "error", err)
				sel = ""
			}
		}
		sm.Fields[f.Name] = sel
	}

	switch suggested := selectorString(resp.DetailLinkField); {
	case req.DetailLinkField != "":
		sm.DetailLinkField = req.DetailLinkField
	case !req.Detail && suggested != "" && req.Schema.Has(suggested):
		sm.DetailLinkField = suggested
	}

	return sm, nil
}

// selectorString reads a selector value: a string, an array of strings
// (joined as a selector group), or null.
func selectorString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return cleanSelector(s)
		}
	case '[':
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			var parts []string
			for _, s := range list {
				if s = cleanSelector(s); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, ", ")
		}
	}
	return ""
}

func cleanSelector(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "...":
		return ""
	}
	return s
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
