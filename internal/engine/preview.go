package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
)

type previewSession struct {
	id     string
	ctx    audio.Context
	voice  audio.Voice
	cancel context.CancelFunc
}

// Preview auditions [StartMs, EndMs) of one stem and blocks until it has
// started or failed. See BeginPreview.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) error {
	finish, err := e.BeginPreview(ctx, req)
	if err != nil {
		return err
	}
	finish()
	return nil
}

// BeginPreview tears down any running preview, whichever deck it belonged to,
// and installs a new session before returning, so a later StopPreview stops
// this one. The returned function fetches the stem and starts it in its own
// context, outside the crossfader; it blocks. Fetch or decode failures are
// logged and leave nothing playing.
func (e *Engine) BeginPreview(ctx context.Context, req PreviewRequest) (func(), error) {
	if !req.Deck.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDeck, req.Deck)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	e.stopPreviewLocked()

	pctx, err := e.backend.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create preview context: %w", err)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	sess := &previewSession{id: uuid.NewString(), ctx: pctx, cancel: cancel}
	e.preview = sess

	return func() {
		defer cancel()
		e.finishPreview(fetchCtx, sess, req)
	}, nil
}

func (e *Engine) finishPreview(ctx context.Context, sess *previewSession, req PreviewRequest) {
	pctx := sess.ctx
	log := e.log.With(zap.String("preview", sess.id), zap.Int("deck", int(req.Deck)), zap.String("stem", string(req.Stem)))

	buf, fetchErr := e.fetchDecode(ctx, req.URL)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.preview != sess {
		log.Debug("discarding superseded preview")
		return
	}
	if fetchErr != nil {
		log.Warn("preview load failed", zap.String("url", req.URL), zap.Error(fetchErr))
		e.stopPreviewLocked()
		return
	}
	length := req.EndMs - req.StartMs
	if length <= 0 {
		log.Warn("empty preview region", zap.Float64("start_ms", req.StartMs), zap.Float64("end_ms", req.EndMs))
		e.stopPreviewLocked()
		return
	}

	gain, err := pctx.NewGain(nil)
	if err != nil {
		log.Warn("create preview gain failed", zap.Error(err))
		e.stopPreviewLocked()
		return
	}
	v, err := pctx.NewVoice(buf, gain)
	if err != nil {
		log.Warn("create preview voice failed", zap.Error(err))
		e.stopPreviewLocked()
		return
	}
	v.OnEnded(func() { e.previewEnded(sess) })
	v.Start(msToDuration(req.StartMs), msToDuration(length))
	sess.voice = v
	sess.cancel = nil

	log.Debug("preview started", zap.Float64("start_ms", req.StartMs), zap.Float64("end_ms", req.EndMs))
}

// StopPreview tears down the running preview, if any.
func (e *Engine) StopPreview() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopPreviewLocked()
}

// previewEnded closes a preview whose voice reached its end naturally.
func (e *Engine) previewEnded(sess *previewSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.preview != sess {
		return
	}
	if err := sess.ctx.Close(); err != nil {
		e.log.Debug("close preview context", zap.Error(err))
	}
	e.preview = nil
}

// stopPreviewLocked stops and closes the preview session. Must be called with mu held.
func (e *Engine) stopPreviewLocked() {
	sess := e.preview
	if sess == nil {
		return
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	if sess.voice != nil {
		sess.voice.Stop()
	}
	if err := sess.ctx.Close(); err != nil {
		e.log.Debug("close preview context", zap.Error(err))
	}
	e.preview = nil
}
