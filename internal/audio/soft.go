package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrContextClosed is returned when building on a closed context.
var ErrContextClosed = errors.New("audio context closed")

// Soft is a software Backend. Every context's voices are summed into one
// stereo mix that Run paces out at real-time rate as 20ms frames.
type Soft struct {
	log     *zap.Logger
	start   time.Time
	frameCh chan []int16

	mu       sync.Mutex
	contexts map[*softContext]struct{}
}

// NewSoft creates a software backend.
func NewSoft(log *zap.Logger) *Soft {
	return &Soft{
		log:      log,
		start:    time.Now(),
		frameCh:  make(chan []int16, 100),
		contexts: make(map[*softContext]struct{}),
	}
}

// Decode implements Backend.
func (s *Soft) Decode(ctx context.Context, data []byte) (Buffer, error) {
	pcm, err := Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

// Now implements Backend using the process monotonic clock.
func (s *Soft) Now() time.Duration {
	return time.Since(s.start)
}

// NewContext implements Backend.
func (s *Soft) NewContext() (Context, error) {
	c := &softContext{soft: s, voices: make(map[*softVoice]struct{})}
	s.mu.Lock()
	s.contexts[c] = struct{}{}
	s.mu.Unlock()
	return c, nil
}

// ContextCount returns the number of open contexts.
func (s *Soft) ContextCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

type softContext struct {
	soft   *Soft
	closed bool
	voices map[*softVoice]struct{}
}

func (c *softContext) NewGain(parent Gain) (Gain, error) {
	c.soft.mu.Lock()
	defer c.soft.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	g := &softGain{soft: c.soft, level: 1}
	if parent != nil {
		p, ok := parent.(*softGain)
		if !ok {
			return nil, fmt.Errorf("foreign gain node %T", parent)
		}
		g.parent = p
	}
	return g, nil
}

func (c *softContext) NewVoice(buf Buffer, out Gain) (Voice, error) {
	pcm, ok := buf.(*PCM)
	if !ok {
		return nil, fmt.Errorf("foreign buffer %T", buf)
	}
	g, ok := out.(*softGain)
	if !ok {
		return nil, fmt.Errorf("foreign gain node %T", out)
	}

	c.soft.mu.Lock()
	defer c.soft.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	v := &softVoice{ctx: c, pcm: pcm, out: g, rate: 1}
	c.voices[v] = struct{}{}
	return v, nil
}

func (c *softContext) Close() error {
	c.soft.mu.Lock()
	defer c.soft.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for v := range c.voices {
		v.playing = false
	}
	c.voices = nil
	delete(c.soft.contexts, c)
	return nil
}

type softGain struct {
	soft   *Soft
	parent *softGain
	level  float64
}

func (g *softGain) SetGain(level float64) {
	g.soft.mu.Lock()
	g.level = level
	g.soft.mu.Unlock()
}

func (g *softGain) Gain() float64 {
	g.soft.mu.Lock()
	defer g.soft.mu.Unlock()
	return g.level
}

// effective multiplies the chain up to the context output. Must be called with mu held.
func (g *softGain) effective() float64 {
	level := 1.0
	for n := g; n != nil; n = n.parent {
		level *= n.level
	}
	return level
}

type softVoice struct {
	ctx *softContext
	pcm *PCM
	out *softGain

	playing  bool
	started  bool
	pos      float64 // source frame index
	end      float64 // exclusive source frame index
	rate     float64
	lastGain float64
	onEnded  func()
}

func (v *softVoice) Start(offset, length time.Duration) {
	v.ctx.soft.mu.Lock()
	defer v.ctx.soft.mu.Unlock()
	if v.started || v.ctx.closed {
		return
	}
	rate := float64(v.pcm.SampleRate)
	total := float64(v.pcm.Frames())
	v.pos = min(max(offset.Seconds()*rate, 0), total)
	v.end = total
	if length > 0 {
		v.end = min(v.pos+length.Seconds()*rate, total)
	}
	v.started = true
	v.playing = true
	v.lastGain = v.out.effective()
}

func (v *softVoice) SetRate(rate float64) {
	v.ctx.soft.mu.Lock()
	v.rate = rate
	v.ctx.soft.mu.Unlock()
}

func (v *softVoice) Rate() float64 {
	v.ctx.soft.mu.Lock()
	defer v.ctx.soft.mu.Unlock()
	return v.rate
}

func (v *softVoice) Stop() {
	v.ctx.soft.mu.Lock()
	v.playing = false
	v.onEnded = nil
	v.ctx.soft.mu.Unlock()
}

func (v *softVoice) OnEnded(fn func()) {
	v.ctx.soft.mu.Lock()
	v.onEnded = fn
	v.ctx.soft.mu.Unlock()
}
