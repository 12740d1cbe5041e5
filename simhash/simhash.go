// Package simhash fingerprints extracted page content so a crawl can notice
// listing pages that repeat an earlier page under a different URL.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"sync"

	"github.com/use-agent/dirscrape/models"
)

// Fingerprint computes a 64-bit SimHash of the given text.
// Uses FNV-64a hash on word-level tokens with bit vector accumulation.
func Fingerprint(text string) uint64 {
	return fingerprintTokens(strings.Fields(text))
}

// Records fingerprints the content of a page's records. Each record
// contributes one token built from its non-null values, so pages with the
// same entries hash equal regardless of whitespace inside values. A page
// with no non-empty record yields 0.
func Records(records []*models.Record) uint64 {
	tokens := make([]string, 0, len(records))
	for _, r := range records {
		if r == nil || r.Empty() {
			continue
		}
		var b strings.Builder
		for _, name := range r.Fields {
			if v, ok := r.Get(name); ok {
				b.WriteString(name)
				b.WriteByte('=')
				b.WriteString(strings.Join(strings.Fields(v), " "))
			}
			b.WriteByte(0x1f)
		}
		tokens = append(tokens, b.String())
	}
	return fingerprintTokens(tokens)
}

func fingerprintTokens(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance between two SimHash fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar returns true if the Hamming distance between two fingerprints
// is less than or equal to the threshold.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// Guard remembers the fingerprints of pages seen during one crawl.
type Guard struct {
	mu        sync.Mutex
	threshold int
	seen      map[uint64]string
}

// NewGuard returns a Guard that treats fingerprints within threshold bits
// of an earlier one as repeats. Threshold 0 means exact match.
func NewGuard(threshold int) *Guard {
	return &Guard{threshold: threshold, seen: make(map[uint64]string)}
}

// Seen records fp for pageURL and reports the URL of an earlier page with
// the same (or similar) fingerprint. A zero fingerprint is never a repeat.
func (g *Guard) Seen(fp uint64, pageURL string) (string, bool) {
	if fp == 0 {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.seen[fp]; ok {
		return prev, true
	}
	if g.threshold > 0 {
		for other, prev := range g.seen {
			if Similar(fp, other, g.threshold) {
				return prev, true
			}
		}
	}
	g.seen[fp] = pageURL
	return "", false
}
