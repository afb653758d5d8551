package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
)

// fakeBackend decodes a byte string holding a duration in ms and keeps a
// manually advanced clock.
type fakeBackend struct {
	mu       sync.Mutex
	now      time.Duration
	contexts []*fakeContext
}

type fakeBuffer struct{ d time.Duration }

func (b fakeBuffer) Duration() time.Duration { return b.d }

func (b *fakeBackend) Decode(ctx context.Context, data []byte) (audio.Buffer, error) {
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil, errors.New("undecodable")
	}
	return fakeBuffer{d: msToDuration(ms)}, nil
}

func (b *fakeBackend) NewContext() (audio.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &fakeContext{}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *fakeBackend) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

func (b *fakeBackend) advance(ms float64) {
	b.mu.Lock()
	b.now += msToDuration(ms)
	b.mu.Unlock()
}

func (b *fakeBackend) openContexts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.contexts {
		if !c.closed {
			n++
		}
	}
	return n
}

type fakeContext struct {
	mu       sync.Mutex
	closed   bool
	voiceErr error
	gains  []*fakeGain
	voices []*fakeVoice
}

func (c *fakeContext) NewGain(parent audio.Gain) (audio.Gain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &fakeGain{level: 1}
	if parent != nil {
		g.parent = parent.(*fakeGain)
	}
	c.gains = append(c.gains, g)
	return g, nil
}

func (c *fakeContext) NewVoice(buf audio.Buffer, out audio.Gain) (audio.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voiceErr != nil {
		return nil, c.voiceErr
	}
	v := &fakeVoice{buffer: buf, rate: 1}
	c.voices = append(c.voices, v)
	return v, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, v := range c.voices {
		v.stopped = true
	}
	return nil
}

func (c *fakeContext) activeVoices() []*fakeVoice {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeVoice
	for _, v := range c.voices {
		if v.started && !v.stopped {
			out = append(out, v)
		}
	}
	return out
}

type fakeGain struct {
	parent *fakeGain
	level  float64
}

func (g *fakeGain) SetGain(level float64) { g.level = level }
func (g *fakeGain) Gain() float64         { return g.level }

type fakeVoice struct {
	buffer  audio.Buffer
	started bool
	stopped bool
	offset  time.Duration
	length  time.Duration
	rate    float64
	onEnded func()
}

func (v *fakeVoice) Start(offset, length time.Duration) {
	v.started = true
	v.offset = offset
	v.length = length
}
func (v *fakeVoice) SetRate(rate float64) { v.rate = rate }
func (v *fakeVoice) Rate() float64        { return v.rate }
func (v *fakeVoice) Stop()                { v.stopped = true }
func (v *fakeVoice) OnEnded(fn func())    { v.onEnded = fn }

// finish simulates the backend reaching the end of the buffer.
func (v *fakeVoice) finish() {
	v.stopped = true
	if v.onEnded != nil {
		v.onEnded()
	}
}

// fakeFetcher serves refs from a map. Refs listed in gates block until the
// gate channel is closed.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]string
	gates map[string]chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	gate := f.gates[ref]
	data, ok := f.data[ref]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(data), nil
}

// manualTicks records tick callbacks so tests fire them explicitly.
type manualTicks struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func (m *manualTicks) tickFunc(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fns == nil {
		m.fns = make(map[int]func())
	}
	id := m.nextID
	m.nextID++
	m.fns[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.fns, id)
		m.mu.Unlock()
	}
}

func (m *manualTicks) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}

func (m *manualTicks) fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.fns))
	for _, fn := range m.fns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) observe(n Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) take() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notes
	r.notes = nil
	return out
}

func (r *recorder) count(t NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	engine  *Engine
	backend *fakeBackend
	fetcher *fakeFetcher
	ticks   *manualTicks
	rec     *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{},
		fetcher: &fakeFetcher{
			data: map[string]string{
				"mem://drums-10s":  "10000",
				"mem://vocals-12s": "12000",
				"mem://bass-8s":    "8000",
				"mem://garbage":    "not audio",
			},
			gates: map[string]chan struct{}{},
		},
		ticks: &manualTicks{},
		rec:   &recorder{},
	}
	h.engine = New(h.backend, h.fetcher, zap.NewNop(), Options{Tick: h.ticks.tickFunc})
	h.engine.Observe(h.rec.observe)
	t.Cleanup(h.engine.Close)
	return h
}

// load puts the given refs on a deck as drums, vocals, bass, ... in order.
func (h *harness) load(t *testing.T, id DeckID, refs ...string) {
	t.Helper()
	stems := []audio.StemType{audio.StemDrums, audio.StemVocals, audio.StemBass, audio.StemOther}
	req := LoadRequest{Deck: id}
	for i, ref := range refs {
		req.Sources = append(req.Sources, StemSource{Stem: stems[i%len(stems)], URL: ref})
	}
	if err := h.engine.LoadDeck(context.Background(), req); err != nil {
		t.Fatalf("LoadDeck: %v", err)
	}
}

func (h *harness) deckContext(id DeckID) *fakeContext {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	if c, ok := h.engine.decks[id-1].ctx.(*fakeContext); ok {
		return c
	}
	return nil
}

func (h *harness) masterGain(id DeckID) float64 {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.engine.decks[id-1].master.Gain()
}
