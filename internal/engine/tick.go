package engine

import (
	"sync"
	"time"
)

// TickFunc calls fn every interval until the returned stop function is called.
// stop must not wait for an in-flight fn, since fn takes the engine lock that
// the caller of stop already holds.
type TickFunc func(interval time.Duration, fn func()) (stop func())

// TimeTicker is the default TickFunc, backed by a time.Ticker goroutine.
func TimeTicker(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

type tickAction int

const (
	tickReport tickAction = iota // emit time_update
	tickLoop                     // jump back to the loop start, report nothing
	tickEnd                      // natural end of track
)

// decideTick picks what a position tick does at elapsed ms into the track.
// The loop check comes first so an active loop inside the track never ends it.
func decideTick(elapsedMs, durationMs float64, loop *LoopConfig) tickAction {
	if loop != nil && loop.Active && loop.StartMs != nil && loop.EndMs != nil && elapsedMs >= *loop.EndMs {
		return tickLoop
	}
	if elapsedMs >= durationMs {
		return tickEnd
	}
	return tickReport
}

// startTickLocked starts the deck's position tick. Must be called with mu held.
func (e *Engine) startTickLocked(d *deck) {
	e.stopTickLocked(d)
	d.tickRun++
	run := d.tickRun
	d.stopTick = e.tick(e.tickInterval, func() { e.onTick(d, run) })
}

// stopTickLocked stops the deck's position tick. Must be called with mu held.
func (e *Engine) stopTickLocked(d *deck) {
	if d.stopTick != nil {
		d.stopTick()
		d.stopTick = nil
	}
	d.tickRun++
}

func (e *Engine) onTick(d *deck, run uint64) {
	e.mu.Lock()
	if run != d.tickRun || !d.playing {
		// a tick that raced with pause/seek
		e.mu.Unlock()
		return
	}

	var out []Notification
	elapsed := e.nowMs() - d.startRef

	switch decideTick(elapsed, d.durationMs, d.loop) {
	case tickLoop:
		e.seekLocked(d, *d.loop.StartMs)
	case tickEnd:
		e.pauseLocked(d)
		d.pauseOffsetMs = 0
		out = append(out, Notification{Type: NotifyDeckStopped, Deck: d.id})
	default:
		out = append(out, Notification{Type: NotifyTimeUpdate, Deck: d.id, Position: elapsed})
	}
	observers := e.observers
	e.mu.Unlock()

	notify(observers, out)
}

func notify(observers []Observer, out []Notification) {
	for _, n := range out {
		for _, o := range observers {
			o(n)
		}
	}
}
