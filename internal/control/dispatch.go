package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/satindergrewal/stemdeck/internal/engine"
	"go.uber.org/zap"
)

// Mixer is the engine surface driven by the control server.
type Mixer interface {
	BeginLoad(ctx context.Context, req engine.LoadRequest) (func(), error)
	UnloadDeck(id engine.DeckID)
	SetPlaying(id engine.DeckID, playing bool)
	Seek(id engine.DeckID, positionMs float64)
	SeekAndPlay(id engine.DeckID, positionMs float64)
	SetPitch(id engine.DeckID, value float64)
	SetLoop(id engine.DeckID, cfg engine.LoopConfig)
	SetCuePoints(id engine.DeckID, markers []engine.CueMarker)
	SetCrossfader(value float64)
	SetCrossfaderCurve(curve string)
	SetDeckVolume(id engine.DeckID, level float64)
	BeginPreview(ctx context.Context, req engine.PreviewRequest) (func(), error)
	StopPreview()
	Status() engine.Status
	DeckStatus(id engine.DeckID) (engine.DeckStatus, bool)
	Observe(fn engine.Observer)
}

var _ Mixer = (*engine.Engine)(nil)

// Dispatcher decodes envelopes into Mixer calls. Loads and previews take
// effect before Dispatch returns; only their fetch runs in the background,
// under the dispatcher's context.
type Dispatcher struct {
	mixer Mixer
	log   *zap.Logger
	ctx   context.Context
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Background work is cancelled with ctx.
func NewDispatcher(ctx context.Context, m Mixer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{mixer: m, log: log, ctx: ctx}
}

// Dispatch runs one command. The returned bytes, when non-nil, are a reply
// for the sender only.
func (d *Dispatcher) Dispatch(env Envelope) ([]byte, error) {
	switch env.Type {
	case MsgLoadDeck:
		var req engine.LoadRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		if !req.Deck.Valid() {
			return nil, fmt.Errorf("%w: %d", engine.ErrInvalidDeck, req.Deck)
		}
		if !knownStems(req.Sources) {
			d.log.Warn("load names unrecognized stem types", zap.Int("deck", int(req.Deck)))
		}
		finish, err := d.mixer.BeginLoad(d.ctx, req)
		if err != nil {
			return nil, err
		}
		d.background(finish)

	case MsgUnloadDeck:
		var req deckData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.UnloadDeck(req.Deck)

	case MsgPlayDeck:
		var req playDeckData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetPlaying(req.Deck, req.Playing)

	case MsgSeekDeck:
		var req positionData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.Seek(req.Deck, req.Position)

	case MsgSeekAndPlay:
		var req positionData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SeekAndPlay(req.Deck, req.Position)

	case MsgSetCrossfader:
		var req crossfaderData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetCrossfader(req.Value)

	case MsgSetCurve:
		var req curveData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetCrossfaderCurve(req.Curve)

	case MsgSetVolume:
		var req volumeData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetDeckVolume(req.Deck, req.Level)

	case MsgSetLoop:
		var req loopData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetLoop(req.Deck, req.LoopConfig)

	case MsgSetCuePoints:
		var req cuePointsData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetCuePoints(req.Deck, req.Markers)

	case MsgSetPitch:
		var req pitchData
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		d.mixer.SetPitch(req.Deck, req.Value)

	case MsgPreview:
		var req engine.PreviewRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		if !req.Deck.Valid() {
			return nil, fmt.Errorf("%w: %d", engine.ErrInvalidDeck, req.Deck)
		}
		finish, err := d.mixer.BeginPreview(d.ctx, req)
		if err != nil {
			return nil, err
		}
		d.background(finish)

	case MsgStopPreview:
		d.mixer.StopPreview()

	case MsgGetStatus:
		return encode(MsgStatus, d.mixer.Status())

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	return nil, nil
}

// Wait blocks until background loads and previews have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) background(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	return nil
}
