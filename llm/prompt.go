package llm

import (
	"fmt"
	"strings"

	"github.com/use-agent/dirscrape/models"
)

const listingSystemPrompt = `You write CSS selectors for scraping web directories (member lists, company listings, staff pages, search results).

Given a reduced HTML sketch of a listing page and a set of target fields, identify the element that repeats once per directory entry and write selectors that extract each field from inside one entry.

Rules:
- "list_item_selector" must match every entry on the page and nothing else.
- Field selectors are relative to one list item. Use null when a field is not present.
- Tables: the list item is the data row (tr); fields are cells, e.g. "td:nth-child(2)".
- Prefer stable hooks: id, data-*, itemprop, role, semantic tags. For hashed class names (e.g. "styles__Name-sc-x1y2") use substring matches such as [class*="Name"].
- Link and URL fields: select the element carrying the href, e.g. "a.profile[href]". Email fields: prefer a[href^="mailto:"].
- Comma-separated fallbacks are allowed: "h3.name, h2".
- "pagination_selector" matches the link to the NEXT page only (not page numbers or "previous"), or null when there is no pagination.
- Reply with a single JSON object and nothing else.`

const detailSystemPrompt = `You write CSS selectors for scraping detail pages of web directory entries.

Given a reduced HTML sketch of ONE entry's detail page and a set of target fields, write a selector for each field. The whole page is one record.

Rules:
- Set "list_item_selector" to null and "pagination_selector" to null.
- Field selectors are evaluated against the whole document; make them specific enough to hit the right element first.
- Use null when a field is not present on the page.
- Prefer stable hooks: id, data-*, itemprop, role, semantic tags. For hashed class names use substring matches such as [class*="Name"].
- Reply with a single JSON object and nothing else.`

// buildUserPrompt renders the per-page part of the conversation.
func buildUserPrompt(req InferRequest, sketch string, info SketchInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "URL: %s\n\n", req.URL)

	b.WriteString("Target fields:\n")
	for _, f := range req.Schema.Fields {
		hint := f.Hint
		if hint == "" {
			hint = f.Name
		}
		fmt.Fprintf(&b, "- %q (%s): %s\n", f.Name, f.Kind, hint)
	}

	if !req.Detail {
		fmt.Fprintf(&b, "\nStructure detected: %s", info.Kind)
		if info.Count > 0 {
			fmt.Fprintf(&b, ", %d items (sketch shows %d)", info.Count, info.Shown)
		}
		if info.Hint != "" {
			fmt.Fprintf(&b, ", candidate item selector %q", info.Hint)
		}
		b.WriteString("\n")
		if req.DetailLinkField != "" {
			fmt.Fprintf(&b, "The field %q must hold the URL of each entry's own detail page.\n", req.DetailLinkField)
		}
	}

	b.WriteString("\nHTML sketch:\n```html\n")
	b.WriteString(sketch)
	b.WriteString("\n```\n\nRespond with JSON of exactly this shape:\n")
	b.WriteString(responseShape(req.Schema, req.Detail))
	return b.String()
}

func responseShape(schema *models.Schema, detail bool) string {
	var b strings.Builder
	if detail {
		b.WriteString(`{"list_item_selector": null, "selectors": {`)
	} else {
		b.WriteString(`{"list_item_selector": "...", "selectors": {`)
	}
	for i, name := range schema.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%q: "..." or null`, name)
	}
	if detail {
		b.WriteString(`}, "pagination_selector": null}`)
	} else {
		b.WriteString(`}, "pagination_selector": "..." or null, "detail_link_field": "<field name>" or null}`)
	}
	return b.String()
}
