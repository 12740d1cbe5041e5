package scraper

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

const (
	// waitForTimeout bounds the wait for a caller-supplied selector.
	waitForTimeout = 10 * time.Second

	// maxScrollSteps caps lazy-load scrolling on infinite pages.
	maxScrollSteps = 20

	scrollPause = 250 * time.Millisecond
)

// waitForSelector waits until at least one element matches sel.
func waitForSelector(p *rod.Page, sel string) error {
	return p.Timeout(waitForTimeout).WaitElementsMoreThan(sel, 0)
}

// scrollToBottom scrolls one viewport at a time until the bottom of the
// document is visible or maxScrollSteps is reached, pausing between steps
// so lazily loaded entries can arrive.
func scrollToBottom(p *rod.Page) error {
	for i := 0; i < maxScrollSteps; i++ {
		res, err := p.Eval(`() => [window.scrollY + window.innerHeight, document.documentElement.scrollHeight, window.innerHeight]`)
		if err != nil {
			return fmt.Errorf("read scroll position: %w", err)
		}
		dims := res.Value.Arr()
		if len(dims) != 3 {
			return fmt.Errorf("unexpected scroll position %v", res.Value)
		}
		bottom, height, viewport := dims[0].Int(), dims[1].Int(), dims[2].Int()
		if bottom >= height || viewport <= 0 {
			break
		}

		if err := p.Mouse.Scroll(0, float64(viewport), 0); err != nil {
			return fmt.Errorf("scroll step %d failed: %w", i, err)
		}

		select {
		case <-time.After(scrollPause):
		case <-p.GetContext().Done():
			return p.GetContext().Err()
		}
	}
	_ = p.WaitDOMStable(300*time.Millisecond, 0.1)
	return nil
}
