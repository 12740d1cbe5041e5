package llm

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/dirscrape/cleaner"
	"golang.org/x/net/html"
)

// Sketch limits.
const (
	sketchMaxItems = 5
	sketchMaxText  = 120
	sketchMaxAttr  = 80
	minItems       = 3
	minItemText    = 30
)

// Structure kinds reported in SketchInfo.
const (
	SketchTable    = "table"
	SketchRepeated = "repeated"
	SketchKeyword  = "keyword"
	SketchDocument = "document"
)

// SketchInfo describes what the sketcher found.
type SketchInfo struct {
	Kind           string
	Count          int    // total items located
	Shown          int    // items kept in the sketch
	Hint           string // suggested item selector, may be empty
	OriginalTokens int
	SketchTokens   int
}

// noiseSelector matches elements that never carry directory data.
const noiseSelector = "script, style, svg, noscript, iframe, link, meta, template"

// keptAttrs are the attributes the model needs to write selectors.
var keptAttrs = map[string]bool{
	"id": true, "class": true, "href": true, "src": true, "role": true,
	"rel": true, "name": true, "title": true, "aria-label": true,
	"itemprop": true, "itemtype": true, "onclick": true, "type": true,
}

// keywordClasses are class fragments typical of directory entries.
var keywordClasses = []string{"member", "profile", "card", "listing", "entry", "result", "company", "person", "item"}

// paginationSelectors locate the pagination area, most specific first.
var paginationSelectors = []string{
	`a[rel~="next"]`,
	`[class*="paginat"]`,
	`[class*="pager"]`,
	`nav[aria-label*="agination"]`,
	`.next, [class*="next"]`,
}

// Sketch reduces a page to the structure needed for selector inference:
// noise is removed, the repeating item structure is located, and only the
// first few items plus the pagination area are kept. The result fits in
// maxTokens estimated tokens.
func Sketch(rawHTML string, maxTokens int) (string, SketchInfo) {
	info := SketchInfo{Kind: SketchDocument, OriginalTokens: cleaner.EstimateTokens(rawHTML)}
	if maxTokens <= 0 {
		maxTokens = 6000
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		out := truncateRunes(rawHTML, maxTokens*3)
		info.SketchTokens = cleaner.EstimateTokens(out)
		return out, info
	}

	doc.Find(noiseSelector).Remove()
	for _, n := range doc.Nodes {
		simplify(n)
	}

	var out string
	for shown := sketchMaxItems; shown >= 1; shown-- {
		out = buildSketch(doc, shown, &info)
		if cleaner.EstimateTokens(out) <= maxTokens {
			break
		}
	}
	out, _ = cleaner.TruncateTokens(out, maxTokens)

	info.SketchTokens = cleaner.EstimateTokens(out)
	return out, info
}

func buildSketch(doc *goquery.Document, shown int, info *SketchInfo) string {
	var buf bytes.Buffer

	if table, rows := findTable(doc); table != nil {
		info.Kind, info.Count, info.Hint = SketchTable, len(rows), tableHint(table)
		info.Shown = min(shown, len(rows))
		writeComment(&buf, fmt.Sprintf("path: %s | %d rows, showing %d", pathOf(table.Get(0)), len(rows), info.Shown))
		renderTable(&buf, table, rows, shown)
	} else if items, kind := findItems(doc); len(items) > 0 {
		info.Kind, info.Count, info.Hint = kind, len(items), signatureSelector(items[0])
		info.Shown = min(shown, len(items))
		parent := items[0].Parent
		writeComment(&buf, fmt.Sprintf("path: %s | %d items like %s, showing %d", pathOf(parent), len(items), info.Hint, info.Shown))
		renderGroup(&buf, parent, items[:info.Shown])
	} else {
		info.Kind, info.Count, info.Shown, info.Hint = SketchDocument, 0, 0, ""
		body := doc.Find("body")
		if body.Length() == 0 {
			body = doc.Selection
		}
		for _, n := range body.Nodes {
			_ = html.Render(&buf, n)
		}
		return buf.String()
	}

	if pager := findPagination(doc); pager != nil {
		buf.WriteString("\n")
		writeComment(&buf, "pagination: "+pathOf(pager))
		renderCapped(&buf, pager, 30)
	}
	return buf.String()
}

// ── Structure detection ─────────────────────────────────────────────

// findTable returns the table with the most data rows, if it has at least
// minItems. Layout tables that wrap other tables are skipped.
func findTable(doc *goquery.Document) (*goquery.Selection, []*html.Node) {
	var (
		best     *goquery.Selection
		bestRows []*html.Node
	)
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		if t.Find("table").Length() > 0 {
			return
		}
		var rows []*html.Node
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if tr.Find("td").Length() == 0 {
				return
			}
			if len(strings.TrimSpace(tr.Text())) == 0 {
				return
			}
			rows = append(rows, tr.Get(0))
		})
		if len(rows) >= minItems && len(rows) > len(bestRows) {
			best, bestRows = t, rows
		}
	})
	return best, bestRows
}

// findItems locates repeated siblings sharing tag and class, falling back to
// elements with directory-like class names.
func findItems(doc *goquery.Document) ([]*html.Node, string) {
	if items := repeatedSiblings(doc); len(items) >= minItems {
		return items, SketchRepeated
	}
	for _, kw := range keywordClasses {
		var items []*html.Node
		doc.Find(fmt.Sprintf(`[class*="%s"]`, kw)).Each(func(_ int, s *goquery.Selection) {
			switch goquery.NodeName(s) {
			case "div", "article", "li", "section", "a", "tr":
			default:
				return
			}
			if len(strings.TrimSpace(s.Text())) < minItemText || inChrome(s) {
				return
			}
			// Keep the outermost match only.
			if s.ParentsFiltered(fmt.Sprintf(`[class*="%s"]`, kw)).Length() > 0 {
				return
			}
			items = append(items, s.Get(0))
		})
		if len(items) >= minItems {
			return sameParent(items), SketchKeyword
		}
	}
	return nil, ""
}

// repeatedSiblings picks the parent whose children contain the largest
// group of substantial elements with an identical tag+class signature.
func repeatedSiblings(doc *goquery.Document) []*html.Node {
	var (
		best      []*html.Node
		bestScore int
	)
	doc.Find("body, body *").Each(func(_ int, parent *goquery.Selection) {
		if inChrome(parent) {
			return
		}
		groups := make(map[string][]*html.Node)
		text := make(map[string]int)
		parent.Children().Each(func(_ int, c *goquery.Selection) {
			t := len(strings.TrimSpace(c.Text()))
			if t < minItemText {
				return
			}
			sig := signature(c.Get(0))
			groups[sig] = append(groups[sig], c.Get(0))
			text[sig] += t
		})
		for sig, nodes := range groups {
			if len(nodes) < minItems {
				continue
			}
			score := len(nodes)*1000 + min(text[sig]/len(nodes), 999)
			if score > bestScore {
				best, bestScore = nodes, score
			}
		}
	})
	return best
}

func findPagination(doc *goquery.Document) *html.Node {
	for _, sel := range paginationSelectors {
		var found *html.Node
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.Is("a[href]") || s.Find("a[href]").Length() > 0 {
				found = s.Get(0)
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}

	var found *html.Node
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		switch strings.ToLower(strings.TrimSpace(a.Text())) {
		case "next", "next page", "next »", "»", "›", "→", ">", ">>":
			found = a.Get(0)
			if a.Parent().Length() > 0 {
				found = a.Parent().Get(0)
			}
			return false
		}
		return true
	})
	return found
}

func inChrome(s *goquery.Selection) bool {
	return s.Is("nav, header, footer") || s.ParentsFiltered("nav, header, footer").Length() > 0
}

func sameParent(items []*html.Node) []*html.Node {
	counts := make(map[*html.Node]int)
	for _, n := range items {
		counts[n.Parent]++
	}
	var (
		parent *html.Node
		most   int
	)
	for p, c := range counts {
		if c > most {
			parent, most = p, c
		}
	}
	if most < minItems {
		return items
	}
	var out []*html.Node
	for _, n := range items {
		if n.Parent == parent {
			out = append(out, n)
		}
	}
	return out
}

// ── Rendering ───────────────────────────────────────────────────────

func renderTable(buf *bytes.Buffer, table *goquery.Selection, rows []*html.Node, shown int) {
	keep := make(map[*html.Node]bool, shown)
	for i := 0; i < shown && i < len(rows); i++ {
		keep[rows[i]] = true
	}
	clone := cloneNode(table.Get(0), func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "tr" && isDataRow(n) {
			return keep[n]
		}
		return true
	})
	_ = html.Render(buf, clone)
	buf.WriteString("\n")
}

func renderGroup(buf *bytes.Buffer, parent *html.Node, items []*html.Node) {
	shell := &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom, Attr: parent.Attr}
	for _, it := range items {
		shell.AppendChild(cloneNode(it, nil))
	}
	_ = html.Render(buf, shell)
	buf.WriteString("\n")
}

// renderCapped renders n keeping at most maxLinks anchors.
func renderCapped(buf *bytes.Buffer, n *html.Node, maxLinks int) {
	links := 0
	clone := cloneNode(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && c.Data == "a" {
			links++
			return links <= maxLinks
		}
		return true
	})
	_ = html.Render(buf, clone)
	buf.WriteString("\n")
}

func writeComment(buf *bytes.Buffer, text string) {
	buf.WriteString("<!-- ")
	buf.WriteString(strings.ReplaceAll(text, "--", "-"))
	buf.WriteString(" -->\n")
}

// cloneNode deep-copies n into a detached tree. keep, when non-nil, filters
// descendants (n itself is always kept).
func cloneNode(n *html.Node, keep func(*html.Node) bool) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if keep != nil && !keep(child) {
			continue
		}
		c.AppendChild(cloneNode(child, keep))
	}
	return c
}

func isDataRow(tr *html.Node) bool {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			return true
		}
	}
	return false
}

// simplify strips comments and non-structural attributes and trims text
// nodes in place.
func simplify(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode:
			n.RemoveChild(c)
		case html.TextNode:
			t := strings.Join(strings.Fields(c.Data), " ")
			if t == "" {
				n.RemoveChild(c)
			} else {
				c.Data = truncateRunes(t, sketchMaxText)
			}
		case html.ElementNode:
			attrs := c.Attr[:0]
			for _, a := range c.Attr {
				if keptAttrs[a.Key] || strings.HasPrefix(a.Key, "data-") {
					a.Val = truncateRunes(a.Val, sketchMaxAttr)
					attrs = append(attrs, a)
				}
			}
			c.Attr = attrs
			simplify(c)
		default:
			simplify(c)
		}
		c = next
	}
}

// ── Selector hints ──────────────────────────────────────────────────

func signature(n *html.Node) string {
	classes := strings.Fields(attr(n, "class"))
	sort.Strings(classes)
	return n.Data + "." + strings.Join(classes, ".")
}

func signatureSelector(n *html.Node) string {
	classes := strings.Fields(attr(n, "class"))
	if len(classes) == 0 {
		if p := n.Parent; p != nil && p.Type == html.ElementNode {
			return compactName(p) + " > " + n.Data
		}
		return n.Data
	}
	return n.Data + "." + strings.Join(classes, ".")
}

func tableHint(t *goquery.Selection) string {
	return compactName(t.Get(0)) + " tr"
}

// pathOf renders an abbreviated ancestor path such as
// "body > div#main > ul.members".
func pathOf(n *html.Node) string {
	var parts []string
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		parts = append(parts, compactName(p))
		if p.Data == "body" {
			break
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func compactName(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	if cls := strings.Fields(attr(n, "class")); len(cls) > 0 {
		return n.Data + "." + cls[0]
	}
	return n.Data
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
