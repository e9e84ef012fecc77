// Package debounce provides cooperative cancellation for bursts of input:
// a Debouncer that runs only the last scheduled call, and a Guard that tells
// callers whether their request is still the latest one.
package debounce

import (
	"sync"
	"time"
)

type Debouncer struct {
	mu    sync.Mutex
	wait  time.Duration
	timer *time.Timer
	gen   uint64
}

func New(wait time.Duration) *Debouncer {
	return &Debouncer{wait: wait}
}

// Trigger schedules fn after the wait period, replacing any call that has
// not fired yet. A replaced fn never runs.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		current := gen == d.gen
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Stop drops the pending call, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
}

// Guard tracks the latest issued token. Results produced for older tokens
// should be discarded; the work behind them is not interrupted.
type Guard struct {
	mu         sync.Mutex
	latest     uint64
	superseded chan struct{}
}

// Next issues a new token. The returned channel is closed as soon as a newer
// token is issued.
func (g *Guard) Next() (uint64, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.superseded != nil {
		close(g.superseded)
	}
	g.latest++
	g.superseded = make(chan struct{})
	return g.latest, g.superseded
}

func (g *Guard) IsLatest(token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return token == g.latest
}
