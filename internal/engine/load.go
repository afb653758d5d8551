package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
)

type decodedStem struct {
	stem   audio.StemType
	buffer audio.Buffer
}

// LoadDeck replaces a deck's track with the given stems and blocks until the
// stems are installed. See BeginLoad.
func (e *Engine) LoadDeck(ctx context.Context, req LoadRequest) error {
	finish, err := e.BeginLoad(ctx, req)
	if err != nil {
		return err
	}
	finish()
	return nil
}

// BeginLoad tears the deck down and prepares it for req before returning, so
// commands issued afterwards see a loading deck. The returned function fetches
// and decodes the sources concurrently and installs them; it blocks. A failing
// source is logged and left out. A load that is overtaken by another load or
// an unload is discarded. Only an invalid deck, a closed engine or a backend
// that cannot create a context is an error.
func (e *Engine) BeginLoad(ctx context.Context, req LoadRequest) (func(), error) {
	if !req.Deck.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDeck, req.Deck)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.deckLocked(req.Deck)
	if d == nil {
		return nil, ErrClosed
	}

	e.resetDeckLocked(d, true)
	gen := d.generation

	bctx, err := e.backend.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create deck %d context: %w", req.Deck, err)
	}
	master, err := bctx.NewGain(nil)
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("create deck %d master gain: %w", req.Deck, err)
	}

	d.ctx = bctx
	d.master = master
	d.tempoBpm = req.TempoBpm
	d.beatTimesMs = append([]float64{}, req.BeatTimesMs...)
	d.loading = true

	loadCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	d.cancelLoad = cancel
	e.applyGainsLocked()

	return func() {
		defer cancel()
		e.finishLoad(loadCtx, d, gen, req)
	}, nil
}

// finishLoad fetches the sources and installs them if the deck is still on
// generation gen.
func (e *Engine) finishLoad(ctx context.Context, d *deck, gen uint64, req LoadRequest) {
	start := time.Now()
	results := e.fetchAll(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()

	if d.generation != gen {
		e.log.Info("discarding stale deck load", zap.Int("deck", int(req.Deck)))
		return
	}
	d.cancelLoad = nil

	for _, r := range results {
		if r == nil {
			continue
		}
		gain, err := d.ctx.NewGain(d.master)
		if err != nil {
			e.log.Warn("create stem gain failed", zap.Int("deck", int(req.Deck)), zap.String("stem", string(r.stem)), zap.Error(err))
			continue
		}
		if _, dup := d.stems[r.stem]; !dup {
			d.order = append(d.order, r.stem)
		}
		d.stems[r.stem] = &stemVoice{buffer: r.buffer, gain: gain}
	}

	d.durationMs = 0
	for _, sv := range d.stems {
		if ms := float64(sv.buffer.Duration()) / float64(time.Millisecond); ms > d.durationMs {
			d.durationMs = ms
		}
	}

	d.ready = true
	d.loading = false
	d.applyPendingLocked()

	e.log.Info("deck loaded",
		zap.Int("deck", int(req.Deck)),
		zap.Int("requested", len(req.Sources)),
		zap.Int("loaded", len(d.stems)),
		zap.Float64("duration_ms", d.durationMs),
		zap.Duration("took", time.Since(start)))
}

// fetchAll fetches and decodes every source concurrently. Failed sources
// leave a nil entry.
func (e *Engine) fetchAll(ctx context.Context, req LoadRequest) []*decodedStem {
	results := make([]*decodedStem, len(req.Sources))

	var wg sync.WaitGroup
	for i, src := range req.Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := e.fetchDecode(ctx, src.URL)
			if err != nil {
				e.log.Warn("stem load failed",
					zap.Int("deck", int(req.Deck)),
					zap.String("stem", string(src.Stem)),
					zap.String("url", src.URL),
					zap.Error(err))
				return
			}
			results[i] = &decodedStem{stem: src.Stem, buffer: buf}
		}()
	}
	wg.Wait()

	return results
}

func (e *Engine) fetchDecode(ctx context.Context, ref string) (audio.Buffer, error) {
	data, err := e.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	buf, err := e.backend.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return buf, nil
}
