package models

// SelectorMap is the extraction plan inferred for one (site, schema) pair.
// Field selectors are relative to each item container. An empty selector
// means the field is not extractable and always yields null.
type SelectorMap struct {
	// ItemSelector matches the repeating item containers. Empty means the
	// whole document is a single container (detail pages).
	ItemSelector string `json:"list_item_selector"`

	// Fields maps schema field name to selector.
	Fields map[string]string `json:"selectors"`

	// Pagination matches the "next page" link. Empty disables pagination.
	Pagination string `json:"pagination_selector"`

	// DetailLinkField names the field holding the detail-page URL, if any.
	DetailLinkField string `json:"detail_link_field,omitempty"`
}

// Selector returns the selector for field, or "" when none was inferred.
func (m *SelectorMap) Selector(field string) string {
	if m == nil || m.Fields == nil {
		return ""
	}
	return m.Fields[field]
}

// Clone returns a deep copy, so cached maps can be handed out safely.
func (m *SelectorMap) Clone() *SelectorMap {
	if m == nil {
		return nil
	}
	c := *m
	c.Fields = make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		c.Fields[k] = v
	}
	return &c
}
