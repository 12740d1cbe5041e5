// Package extract applies inferred selectors to parsed listing and detail
// pages, producing one raw record per item container.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// xpathPrefix explicitly marks an XPath selector.
const xpathPrefix = "xpath:"

// Selector is a compiled CSS or XPath selector.
type Selector struct {
	raw string
	css cascadia.Selector
	xp  *xpath.Expr
}

// IsXPath reports whether sel should be evaluated as XPath rather than CSS.
func IsXPath(sel string) bool {
	s := strings.TrimSpace(sel)
	return strings.HasPrefix(s, xpathPrefix) ||
		strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "(")
}

// CompileSelector compiles sel as XPath or CSS. An empty selector is an error;
// callers treat "" as "not extractable" before compiling.
func CompileSelector(sel string) (*Selector, error) {
	s := strings.TrimSpace(sel)
	if s == "" {
		return nil, fmt.Errorf("empty selector")
	}

	if IsXPath(s) {
		expr, err := xpath.Compile(strings.TrimPrefix(s, xpathPrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", s, err)
		}
		return &Selector{raw: s, xp: expr}, nil
	}

	css, err := cascadia.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("invalid css selector %q: %w", s, err)
	}
	return &Selector{raw: s, css: css}, nil
}

// String returns the selector source.
func (s *Selector) String() string { return s.raw }

// IsXPath reports whether the selector was compiled as XPath.
func (s *Selector) IsXPath() bool { return s.xp != nil }

// Select returns the nodes matched under root, in document order.
func (s *Selector) Select(root *goquery.Selection) *goquery.Selection {
	if s.css != nil {
		return root.FindMatcher(s.css)
	}

	var nodes []*html.Node
	for _, n := range root.Nodes {
		nodes = append(nodes, htmlquery.QuerySelectorAll(n, s.xp)...)
	}
	return selectionOf(root, nodes)
}

// SelectFirst returns the first match under root. When nothing below root
// matches, root itself is tried, so a field selector may name the container.
func (s *Selector) SelectFirst(root *goquery.Selection) *goquery.Selection {
	if m := s.Select(root); m.Length() > 0 {
		return m.First()
	}
	if s.css != nil {
		return root.FilterMatcher(s.css).First()
	}
	return root.Slice(0, 0)
}

// selectionOf wraps nodes into a selection. XPath attribute matches come back
// as detached nodes, so they cannot be found through root.FindNodes.
func selectionOf(root *goquery.Selection, nodes []*html.Node) *goquery.Selection {
	if len(nodes) == 0 {
		return root.Slice(0, 0)
	}
	sel := goquery.NewDocumentFromNode(nodes[0]).Selection
	if len(nodes) > 1 {
		sel = sel.AddNodes(nodes[1:]...)
	}
	return sel
}
