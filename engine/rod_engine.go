package engine

import (
	"context"
	"fmt"
)

// RenderFunc renders a page in a real browser. It is injected from the
// scraper package to avoid a circular import (engine/ -> scraper/).
type RenderFunc func(ctx context.Context, req *FetchRequest) (*FetchResult, error)

// RodEngine is a browser-based engine that delegates to a RenderFunc. The
// forceStealth flag distinguishes "rod" from "rod-stealth".
type RodEngine struct {
	render       RenderFunc
	forceStealth bool
	name         string
}

// NewRodEngine creates a RodEngine.
//   - render: callback that drives the browser.
//   - forceStealth: when true, the engine always sets Stealth=true on requests.
func NewRodEngine(render RenderFunc, forceStealth bool) *RodEngine {
	name := "rod"
	if forceStealth {
		name = "rod-stealth"
	}
	return &RodEngine{
		render:       render,
		forceStealth: forceStealth,
		name:         name,
	}
}

func (e *RodEngine) Name() string { return e.name }

func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.render == nil {
		return nil, fmt.Errorf("%s: no browser configured", e.name)
	}

	// Clone the request so we don't mutate the caller's copy.
	r := *req
	if e.forceStealth {
		r.Stealth = true
	}

	result, err := e.render(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	result.EngineName = e.name
	return result, nil
}
