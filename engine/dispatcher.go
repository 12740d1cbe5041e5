package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Dispatcher is the "auto" fetch strategy. It starts the lightest engine
// first and brings in heavier ones on a schedule, keeping the first page
// that comes back. The engine that wins for a host is remembered, so later
// pages of the same directory go straight to it.
type Dispatcher struct {
	engines []Engine
	// startAfter[i] is when engines[i] joins, measured from the start of
	// the escalation.
	startAfter []time.Duration
	memory     *DomainMemory
}

// NewDispatcher orders engines lightest first. Missing delays are 0;
// memory may be nil.
func NewDispatcher(engines []Engine, escalationDelays []time.Duration, memory *DomainMemory) *Dispatcher {
	startAfter := make([]time.Duration, len(engines))
	copy(startAfter, escalationDelays)
	return &Dispatcher{engines: engines, startAfter: startAfter, memory: memory}
}

func (d *Dispatcher) Name() string { return ModeAuto }

// Fetch returns the first page any engine produces. When every engine
// fails, the error of the heaviest one that ran is returned: a browser
// failure says more about the page than the HTTP engine refusing a JS
// shell.
func (d *Dispatcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	host := hostOf(req.URL)

	if res, ok := d.fetchRemembered(ctx, req, host); ok {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return d.escalate(ctx, req, host)
}

// fetchRemembered tries the engine that last won for host. A failure
// forgets it.
func (d *Dispatcher) fetchRemembered(ctx context.Context, req *FetchRequest, host string) (*FetchResult, bool) {
	name := d.memory.Get(host)
	if name == "" {
		return nil, false
	}
	eng := d.byName(name)
	if eng == nil {
		return nil, false
	}
	res, err := eng.Fetch(ctx, req)
	if err == nil {
		return res, true
	}
	if ctx.Err() == nil {
		slog.Info("remembered engine failed, escalating again", "host", host, "engine", name, "error", err)
		d.memory.Delete(host)
	}
	return nil, false
}

func (d *Dispatcher) byName(name string) Engine {
	for _, eng := range d.engines {
		if eng.Name() == name {
			return eng
		}
	}
	return nil
}

// attempt is one engine's outcome. rank is the engine's position, used to
// pick the most telling error.
type attempt struct {
	rank int
	res  *FetchResult
	err  error
}

func (d *Dispatcher) escalate(ctx context.Context, req *FetchRequest, host string) (*FetchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Every scheduled engine reports exactly once, so the buffer never
	// blocks a straggler after the winner has returned.
	outcomes := make(chan attempt, len(d.engines))
	timers := make([]*time.Timer, 0, len(d.engines))
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for rank, eng := range d.engines {
		start := func() {
			if err := ctx.Err(); err != nil {
				outcomes <- attempt{rank: -1, err: err}
				return
			}
			slog.Debug("engine joining", "engine", eng.Name(), "url", req.URL)
			res, err := eng.Fetch(ctx, req)
			if err != nil {
				slog.Debug("engine failed", "engine", eng.Name(), "url", req.URL, "error", err)
			}
			outcomes <- attempt{rank: rank, res: res, err: err}
		}
		if d.startAfter[rank] <= 0 {
			go start()
			continue
		}
		timers = append(timers, time.AfterFunc(d.startAfter[rank], start))
	}

	var worst attempt
	worst.rank = -1
	for range d.engines {
		a := <-outcomes
		if a.err == nil {
			slog.Debug("engine won", "engine", a.res.EngineName, "url", req.URL)
			d.memory.Set(host, a.res.EngineName)
			return a.res, nil
		}
		if a.rank >= worst.rank {
			worst = a
		}
	}

	if worst.err == nil {
		return nil, fmt.Errorf("no engine could fetch %s", req.URL)
	}
	return nil, worst.err
}

// hostOf returns the lower-cased host name of rawURL, or rawURL itself if
// it does not parse.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}
