package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags separate their text from neighbours when flattened, so
// "<td>A</td><td>B</td>" reads as "A B" rather than "AB".
var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"ol": true, "p": true, "section": true, "table": true, "td": true,
	"th": true, "tr": true, "ul": true,
}

// Text flattens the selection's text, treating block elements as word
// breaks. Inner whitespace is left for the cleaner to collapse.
func Text(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}

	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}

// onclickURL finds a quoted URL-looking argument inside an onclick handler,
// e.g. location.href='/members/42' or window.open("https://x.test/a").
var onclickURL = regexp.MustCompile(`['"]((?:https?:)?//[^'"\s]+|/[^'"\s]*|[\w.\-/]+\.(?:html?|php|aspx?)(?:\?[^'"\s]*)?)['"]`)

// LinkOf reads the URL carried by the first element in s: href, src,
// data-href, a quoted URL in onclick, or a nested anchor's href.
// It returns "" when none is present.
func LinkOf(s *goquery.Selection) string {
	for _, attr := range []string{"href", "src", "data-href", "data-url"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if onclick, ok := s.Attr("onclick"); ok {
		if m := onclickURL.FindStringSubmatch(onclick); m != nil {
			return m[1]
		}
	}
	if a := s.Find("a[href]").First(); a.Length() > 0 {
		href, _ := a.Attr("href")
		return strings.TrimSpace(href)
	}
	return ""
}

// MailtoOf returns the address in the first mailto: link at or below s,
// without the scheme or any query, or "" when there is none.
func MailtoOf(s *goquery.Selection) string {
	href := mailtoHref(s)
	if href == "" {
		href = mailtoHref(s.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).First())
	}
	if href == "" {
		return ""
	}
	addr := href[len("mailto:"):]
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSpace(addr)
}

func mailtoHref(s *goquery.Selection) string {
	href, ok := s.Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if len(href) < len("mailto:") || !strings.EqualFold(href[:len("mailto:")], "mailto:") {
		return ""
	}
	return href
}

// attrFallback reads a value from attributes that commonly carry text when
// the element itself has none (meta content, input value, title tooltips).
func attrFallback(s *goquery.Selection) string {
	for _, attr := range []string{"content", "value", "title", "alt", "aria-label"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
