package engine

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	reNoscript = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)

	emptyRoots = []string{`<div id="root"></div>`, `<div id="app"></div>`, `<div id="__next"></div>`}
)

// NeedsBrowser guesses whether statically fetched HTML is a JavaScript shell
// whose content only appears after rendering.
func NeedsBrowser(body string) bool {
	visible := VisibleText(body)

	// 1. Very little visible text in <body>
	if len(visible) < 200 {
		return true
	}

	lower := strings.ToLower(body)

	// 2. Empty SPA root containers
	for _, root := range emptyRoots {
		if strings.Contains(lower, root) {
			return true
		}
	}

	// 3. <noscript> with JS-required warnings
	if reNoscript.MatchString(lower) {
		return true
	}

	// 4. Many <script> tags + little body text
	return strings.Count(lower, "<script") > 10 && len(visible) < 500
}

// VisibleText returns the text inside <body>, without script and style
// content. Used for heuristics only.
func VisibleText(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript", "template":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript", "template":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				if text := strings.TrimSpace(string(tokenizer.Text())); text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
