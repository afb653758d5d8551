package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// listenerBuffer is ~3 seconds of 20ms frames.
const listenerBuffer = 150

// Monitor fans the rendered master mix out to any number of listeners.
// A slow listener loses frames; it never holds up the others.
type Monitor struct {
	log *zap.Logger

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives 20ms interleaved PCM frames from a Monitor.
type Listener struct {
	ID   string
	Kind string // "http" or "webrtc"
	C    chan []int16

	done    chan struct{}
	dropped atomic.Uint64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many frames were skipped because C was full.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

// NewMonitor creates a monitor with no listeners.
func NewMonitor(log *zap.Logger) *Monitor {
	return &Monitor{
		log:       log,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener of the given kind.
func (m *Monitor) Subscribe(kind string) *Listener {
	l := &Listener{
		ID:   uuid.NewString(),
		Kind: kind,
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.listeners[l] = struct{}{}
	n := len(m.listeners)
	m.mu.Unlock()

	m.log.Info("monitor listener connected", zap.String("listener", l.ID), zap.String("kind", kind), zap.Int("listeners", n))
	return l
}

// Unsubscribe removes l and closes its Done channel. Repeated calls are ignored.
func (m *Monitor) Unsubscribe(l *Listener) {
	m.mu.Lock()
	_, ok := m.listeners[l]
	delete(m.listeners, l)
	n := len(m.listeners)
	m.mu.Unlock()
	if !ok {
		return
	}
	close(l.done)

	m.log.Info("monitor listener disconnected",
		zap.String("listener", l.ID),
		zap.String("kind", l.Kind),
		zap.Uint64("dropped_frames", l.Dropped()),
		zap.Int("listeners", n))
}

// ListenerCount returns the number of active listeners.
func (m *Monitor) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// Run reads frames from source and hands them to every listener until ctx
// is done or source is closed.
func (m *Monitor) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			m.mu.RLock()
			for l := range m.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			m.mu.RUnlock()
		}
	}
}
