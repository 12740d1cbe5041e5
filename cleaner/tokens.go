package cleaner

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens approximates the LLM token count of text as runes/3,
// rounded up to at least 1 for non-empty input. Markup tokenizes denser
// than prose, so the estimate errs high for HTML sketches.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}

// TruncateTokens cuts text to roughly budget tokens on a line boundary.
// A first line longer than the budget is cut mid-line. It reports
// whether anything was removed.
func TruncateTokens(text string, budget int) (string, bool) {
	if budget <= 0 || EstimateTokens(text) <= budget {
		return text, false
	}
	var b strings.Builder
	used := 0
	for line := range strings.Lines(text) {
		cost := EstimateTokens(line)
		if used+cost > budget {
			break
		}
		b.WriteString(line)
		used += cost
	}
	if b.Len() == 0 {
		// First line alone is over budget.
		r := []rune(text)
		return string(r[:min(len(r), budget*3)]), true
	}
	return b.String(), true
}
