package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/satindergrewal/stemdeck/internal/engine"
)

// fakeMixer records every call as a short string.
type fakeMixer struct {
	mu        sync.Mutex
	calls     []string
	observers []engine.Observer
	loadErr   error
}

func (f *fakeMixer) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeMixer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeMixer) BeginLoad(ctx context.Context, req engine.LoadRequest) (func(), error) {
	f.record("load %d %d", req.Deck, len(req.Sources))
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return func() { f.record("fetched %d", req.Deck) }, nil
}
func (f *fakeMixer) UnloadDeck(id engine.DeckID)           { f.record("unload %d", id) }
func (f *fakeMixer) SetPlaying(id engine.DeckID, on bool)  { f.record("play %d %v", id, on) }
func (f *fakeMixer) Seek(id engine.DeckID, ms float64)     { f.record("seek %d %v", id, ms) }
func (f *fakeMixer) SeekAndPlay(id engine.DeckID, ms float64) {
	f.record("seek_and_play %d %v", id, ms)
}
func (f *fakeMixer) SetPitch(id engine.DeckID, v float64) { f.record("pitch %d %v", id, v) }
func (f *fakeMixer) SetLoop(id engine.DeckID, cfg engine.LoopConfig) {
	if cfg.Cleared() {
		f.record("loop %d clear", id)
		return
	}
	f.record("loop %d %v-%v %v", id, *cfg.StartMs, *cfg.EndMs, cfg.Active)
}
func (f *fakeMixer) SetCuePoints(id engine.DeckID, markers []engine.CueMarker) {
	f.record("cues %d %d", id, len(markers))
}
func (f *fakeMixer) SetCrossfader(v float64)            { f.record("xfade %v", v) }
func (f *fakeMixer) SetCrossfaderCurve(c string)        { f.record("curve %s", c) }
func (f *fakeMixer) SetDeckVolume(id engine.DeckID, l float64) { f.record("volume %d %v", id, l) }
func (f *fakeMixer) BeginPreview(ctx context.Context, req engine.PreviewRequest) (func(), error) {
	f.record("preview %d %s %v-%v", req.Deck, req.Stem, req.StartMs, req.EndMs)
	return func() { f.record("fetched preview") }, nil
}
func (f *fakeMixer) StopPreview() { f.record("stop_preview") }

func (f *fakeMixer) Status() engine.Status {
	return engine.Status{
		Decks:      []engine.DeckStatus{{Deck: engine.Deck1}, {Deck: engine.Deck2}},
		Crossfader: 12,
		Curve:      engine.CurveSharp,
	}
}

func (f *fakeMixer) DeckStatus(id engine.DeckID) (engine.DeckStatus, bool) {
	if !id.Valid() {
		return engine.DeckStatus{}, false
	}
	return engine.DeckStatus{Deck: id, DurationMs: 1234}, true
}

func (f *fakeMixer) Observe(fn engine.Observer) {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
}

func (f *fakeMixer) emit(n engine.Notification) {
	f.mu.Lock()
	obs := append([]engine.Observer{}, f.observers...)
	f.mu.Unlock()
	for _, o := range obs {
		o(n)
	}
}
