package engine

import (
	"context"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
)

type stemVoice struct {
	buffer audio.Buffer
	gain   audio.Gain
	active audio.Voice
}

// stop discards the running instance, if any.
func (s *stemVoice) stop() {
	if s.active != nil {
		s.active.Stop()
		s.active = nil
	}
}

type deck struct {
	id DeckID

	ctx    audio.Context
	master audio.Gain
	stems  map[audio.StemType]*stemVoice
	order  []audio.StemType // load order, for deterministic voice creation

	playing       bool
	startRef      float64 // clock ms at position 0 of the current run
	pauseOffsetMs float64
	durationMs    float64

	loop        *LoopConfig
	cues        []CueMarker
	pitch       float64
	tempoBpm    *float64
	beatTimesMs []float64

	// set while the backend is not ready, applied when a load completes
	pendingCues    []CueMarker
	hasPendingCues bool
	pendingLoop    *LoopConfig
	hasPendingLoop bool

	ready      bool
	loading    bool
	generation uint64
	cancelLoad context.CancelFunc

	stopTick func()
	tickRun  uint64
}

func newDeck(id DeckID) *deck {
	return &deck{id: id, stems: make(map[audio.StemType]*stemVoice)}
}

// pitchRate converts a pitch percentage to a playback rate.
func pitchRate(pitch float64) float64 {
	return 1 + pitch/100
}

// elapsedLocked returns the current position. Must be called with mu held.
func (e *Engine) elapsedLocked(d *deck) float64 {
	if d.playing {
		return clamp(e.nowMs()-d.startRef, 0, d.durationMs)
	}
	return d.pauseOffsetMs
}

// playLocked starts every stem at the pause offset. Must be called with mu held.
func (e *Engine) playLocked(d *deck) {
	if d.playing || len(d.stems) == 0 {
		return
	}

	rate := pitchRate(d.pitch)
	offset := msToDuration(d.pauseOffsetMs)
	started := 0
	for _, t := range d.order {
		sv := d.stems[t]
		sv.stop()
		v, err := d.ctx.NewVoice(sv.buffer, sv.gain)
		if err != nil {
			e.log.Warn("create voice failed", zap.Int("deck", int(d.id)), zap.String("stem", string(t)), zap.Error(err))
			continue
		}
		v.SetRate(rate)
		v.Start(offset, 0)
		sv.active = v
		started++
	}
	if started == 0 {
		e.log.Warn("no stem could start, deck stays paused", zap.Int("deck", int(d.id)))
		return
	}

	d.startRef = e.nowMs() - d.pauseOffsetMs
	d.playing = true
	e.startTickLocked(d)
}

// pauseLocked stops every stem and remembers the position. Must be called with mu held.
func (e *Engine) pauseLocked(d *deck) {
	if !d.playing {
		return
	}
	d.pauseOffsetMs = clamp(e.nowMs()-d.startRef, 0, d.durationMs)
	for _, sv := range d.stems {
		sv.stop()
	}
	d.playing = false
	e.stopTickLocked(d)
}

// seekLocked moves to timeMs. Running voices cannot be repositioned, so a
// playing deck is paused and restarted. Must be called with mu held.
func (e *Engine) seekLocked(d *deck, timeMs float64) {
	target := clamp(timeMs, 0, d.durationMs)
	if d.playing {
		e.pauseLocked(d)
		d.pauseOffsetMs = target
		e.playLocked(d)
		return
	}
	d.pauseOffsetMs = target
}

// setPitchLocked stores the pitch and retunes running voices. Must be called with mu held.
func (e *Engine) setPitchLocked(d *deck, value float64) {
	d.pitch = clamp(value, -8, 8)
	if !d.playing {
		return
	}
	rate := pitchRate(d.pitch)
	for _, sv := range d.stems {
		if sv.active != nil {
			sv.active.SetRate(rate)
		}
	}
}

// resetDeckLocked tears down the deck's backend resources and playback state.
// Pending loop/cue data survives when keepPending is set so that values sent
// ahead of a load are applied once it completes. Must be called with mu held.
func (e *Engine) resetDeckLocked(d *deck, keepPending bool) {
	e.stopTickLocked(d)
	for _, sv := range d.stems {
		sv.stop()
	}
	if d.cancelLoad != nil {
		d.cancelLoad()
		d.cancelLoad = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil {
			e.log.Debug("close deck context", zap.Int("deck", int(d.id)), zap.Error(err))
		}
	}

	// outstanding loads for this deck are now stale
	d.generation++

	d.ctx = nil
	d.master = nil
	d.stems = make(map[audio.StemType]*stemVoice)
	d.order = nil
	d.playing = false
	d.startRef = 0
	d.pauseOffsetMs = 0
	d.durationMs = 0
	d.loop = nil
	d.cues = nil
	d.pitch = 0
	d.tempoBpm = nil
	d.beatTimesMs = nil
	d.ready = false
	d.loading = false

	if !keepPending {
		d.pendingCues, d.hasPendingCues = nil, false
		d.pendingLoop, d.hasPendingLoop = nil, false
	}
}

// applyPendingLocked moves buffered loop/cue data onto a ready deck.
func (d *deck) applyPendingLocked() {
	if d.hasPendingCues {
		d.cues = d.pendingCues
		d.pendingCues, d.hasPendingCues = nil, false
	}
	if d.hasPendingLoop {
		d.loop = d.pendingLoop
		d.pendingLoop, d.hasPendingLoop = nil, false
	}
}

func (e *Engine) statusLocked(d *deck) DeckStatus {
	st := DeckStatus{
		Deck:         d.id,
		Loaded:       d.ready,
		Loading:      d.loading,
		Playing:      d.playing,
		PositionMs:   e.elapsedLocked(d),
		DurationMs:   d.durationMs,
		PitchPercent: d.pitch,
		Rate:         pitchRate(d.pitch),
		Volume:       e.xfade.volume[d.id-1],
		TempoBpm:     d.tempoBpm,
		BeatTimesMs:  append([]float64{}, d.beatTimesMs...),
		Cues:         append([]CueMarker{}, d.cues...),
		Stems:        append([]audio.StemType{}, d.order...),
	}
	if d.loop != nil {
		l := *d.loop
		st.Loop = &l
	}
	return st
}
