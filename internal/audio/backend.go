package audio

import (
	"context"
	"time"
)

// Backend is the host audio capability the mixing engine drives. It decodes
// sources, builds gain graphs and playback voices, and reports a monotonic clock.
type Backend interface {
	// Decode turns encoded bytes into a playable buffer.
	Decode(ctx context.Context, data []byte) (Buffer, error)

	// NewContext creates an isolated graph whose output is summed into the mix.
	NewContext() (Context, error)

	// Now returns the backend clock. It never goes backwards.
	Now() time.Duration
}

// Context owns gain nodes and voices. Closing it stops every voice it created.
type Context interface {
	// NewGain creates a gain node routed into parent, or into the context
	// output when parent is nil.
	NewGain(parent Gain) (Gain, error)

	// NewVoice creates a stopped voice for buf routed into out.
	NewVoice(buf Buffer, out Gain) (Voice, error)

	// Close releases the context. Closing twice is a no-op.
	Close() error
}

// Gain scales everything routed through it.
type Gain interface {
	SetGain(level float64)
	Gain() float64
}

// Voice is a single running playback of a buffer. A voice is started once;
// repositioning means creating a new one.
type Voice interface {
	// Start begins playback at offset. A length <= 0 plays to the end of the buffer.
	Start(offset, length time.Duration)

	// SetRate changes the playback rate; pitch and speed move together.
	SetRate(rate float64)

	// Rate returns the current playback rate.
	Rate() float64

	// Stop halts playback. Stopping a stopped voice is ignored.
	Stop()

	// OnEnded registers fn to run when playback reaches its end naturally.
	// It does not run after Stop.
	OnEnded(fn func())
}
