package engine

import (
	"sync"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/source"
	"go.uber.org/zap"
)

// Options tunes an Engine. Zero values pick the defaults.
type Options struct {
	TickInterval time.Duration // default 50ms
	FetchTimeout time.Duration // default 60s
	Curve        Curve         // default linear
	Tick         TickFunc      // default TimeTicker
}

// Engine is the dual-deck mixer. It owns both decks and the preview session;
// every command and tick is serialized by mu. Fetching and decoding run
// outside the lock.
type Engine struct {
	backend audio.Backend
	fetcher source.Fetcher
	log     *zap.Logger

	tick         TickFunc
	tickInterval time.Duration
	fetchTimeout time.Duration

	mu        sync.Mutex
	decks     [2]*deck
	xfade     crossfaderState
	preview   *previewSession
	observers []Observer
	closed    bool
}

// New creates an engine driving backend, fetching sources through fetcher.
func New(backend audio.Backend, fetcher source.Fetcher, log *zap.Logger, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.Tick == nil {
		opts.Tick = TimeTicker
	}
	return &Engine{
		backend:      backend,
		fetcher:      fetcher,
		log:          log,
		tick:         opts.Tick,
		tickInterval: opts.TickInterval,
		fetchTimeout: opts.FetchTimeout,
		decks:        [2]*deck{newDeck(Deck1), newDeck(Deck2)},
		xfade:        newCrossfaderState(opts.Curve),
	}
}

// Observe registers fn for time_update and deck_stopped notifications.
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	// copy so onTick can range over a snapshot without the lock
	e.observers = append(append([]Observer{}, e.observers...), fn)
	e.mu.Unlock()
}

func (e *Engine) nowMs() float64 {
	return float64(e.backend.Now()) / float64(time.Millisecond)
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// deckLocked returns the deck for id, or nil when id is invalid or the engine
// is closed. Must be called with mu held.
func (e *Engine) deckLocked(id DeckID) *deck {
	if e.closed {
		return nil
	}
	if !id.Valid() {
		e.log.Debug("ignoring command for unknown deck", zap.Int("deck", int(id)))
		return nil
	}
	return e.decks[id-1]
}

// SetPlaying plays or pauses a deck.
func (e *Engine) SetPlaying(id DeckID, playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.deckLocked(id)
	if d == nil {
		return
	}
	if playing {
		e.playLocked(d)
	} else {
		e.pauseLocked(d)
	}
}

// Seek moves a deck to positionMs, clamped to the track.
func (e *Engine) Seek(id DeckID, positionMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d := e.deckLocked(id); d != nil {
		e.seekLocked(d, positionMs)
	}
}

// SeekAndPlay moves a deck to positionMs and makes sure it is playing.
func (e *Engine) SeekAndPlay(id DeckID, positionMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.deckLocked(id)
	if d == nil {
		return
	}
	e.seekLocked(d, positionMs)
	e.playLocked(d)
}

// SetPitch sets a deck's pitch in percent, clamped to [-8, 8].
func (e *Engine) SetPitch(id DeckID, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d := e.deckLocked(id); d != nil {
		e.setPitchLocked(d, value)
	}
}

// SetLoop stores a loop region. It takes effect on the next tick and never
// seeks by itself. A config without bounds clears the loop.
func (e *Engine) SetLoop(id DeckID, cfg LoopConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.deckLocked(id)
	if d == nil {
		return
	}

	var loop *LoopConfig
	if !cfg.Cleared() {
		loop = &cfg
	}
	if !d.ready {
		d.pendingLoop, d.hasPendingLoop = loop, true
		return
	}
	d.loop = loop
}

// SetCuePoints replaces a deck's cue markers.
func (e *Engine) SetCuePoints(id DeckID, markers []CueMarker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.deckLocked(id)
	if d == nil {
		return
	}

	cues := append([]CueMarker{}, markers...)
	if !d.ready {
		d.pendingCues, d.hasPendingCues = cues, true
		return
	}
	d.cues = cues
}

// SetCrossfader moves the crossfader to value in [-100, 100].
func (e *Engine) SetCrossfader(value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.xfade.value = clamp(value, -100, 100)
	e.applyGainsLocked()
}

// SetCrossfaderCurve selects the crossfader curve. Unknown names select linear.
func (e *Engine) SetCrossfaderCurve(curve string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	c := ParseCurve(curve)
	if string(c) != curve {
		e.log.Warn("unknown crossfader curve, using linear", zap.String("curve", curve))
	}
	e.xfade.curve = c
	e.applyGainsLocked()
}

// SetDeckVolume sets a deck's volume from a 0-100 level.
func (e *Engine) SetDeckVolume(id DeckID, level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deckLocked(id) == nil {
		return
	}
	e.xfade.volume[id-1] = clamp(level/100, 0, 1)
	e.applyGainsLocked()
}

// applyGainsLocked writes the crossfader gains to every loaded master gain.
// Must be called with mu held.
func (e *Engine) applyGainsLocked() {
	gains := e.xfade.gains()
	for i, d := range e.decks {
		if d.master != nil {
			d.master.SetGain(gains[i])
		}
	}
}

// UnloadDeck tears a deck down, discarding its track, loop and cues.
func (e *Engine) UnloadDeck(id DeckID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d := e.deckLocked(id); d != nil {
		e.resetDeckLocked(d, false)
	}
}

// DeckStatus returns a snapshot of one deck.
func (e *Engine) DeckStatus(id DeckID) (DeckStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !id.Valid() {
		return DeckStatus{}, false
	}
	return e.statusLocked(e.decks[id-1]), true
}

// Status returns a snapshot of both decks and the crossfader.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Crossfader:     e.xfade.value,
		Curve:          e.xfade.curve,
		PreviewPlaying: e.preview != nil && e.preview.voice != nil,
	}
	for _, d := range e.decks {
		st.Decks = append(st.Decks, e.statusLocked(d))
	}
	return st
}

// Close tears down both decks and the preview session. Later commands are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, d := range e.decks {
		e.resetDeckLocked(d, false)
	}
	e.stopPreviewLocked()
	e.closed = true
	e.log.Info("engine closed")
}
