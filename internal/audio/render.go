package audio

import (
	"context"
	"time"
)

// Frames returns the channel of mixed PCM frames (20ms each).
func (s *Soft) Frames() <-chan []int16 {
	return s.frameCh
}

// Run renders the mix at real-time rate. Blocks until ctx is cancelled.
func (s *Soft) Run(ctx context.Context) {
	defer close(s.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := s.renderFrame()

		select {
		case s.frameCh <- frame:
		case <-ctx.Done():
			return
		default:
			// nobody draining, drop the frame rather than fall behind the clock
		}
	}
}

// renderFrame sums one frame of every playing voice and fires end-of-buffer
// callbacks once the mix lock is released.
func (s *Soft) renderFrame() []int16 {
	mix := make([]float64, FrameSamples)
	var ended []func()

	s.mu.Lock()
	for c := range s.contexts {
		for v := range c.voices {
			if !v.playing {
				if v.started {
					// stopped voices are never restarted
					delete(c.voices, v)
				}
				continue
			}
			if v.mixInto(mix) {
				v.playing = false
				delete(c.voices, v)
				if v.onEnded != nil {
					ended = append(ended, v.onEnded)
					v.onEnded = nil
				}
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range ended {
		fn()
	}

	out := make([]int16, FrameSamples)
	for i, m := range mix {
		out[i] = ClipToInt16(m)
	}
	return out
}

// mixInto adds one frame of the voice into mix and reports whether the voice
// reached its end. Must be called with mu held.
func (v *softVoice) mixInto(mix []float64) bool {
	step := v.rate * float64(v.pcm.SampleRate) / SampleRate
	gain := v.out.effective()
	from := v.lastGain
	v.lastGain = gain

	for i := 0; i < FrameSize; i++ {
		idx := int(v.pos)
		if float64(idx) >= v.end {
			return true
		}
		g := RampGain(from, gain, i, FrameSize)
		mix[i*2] += float64(v.pcm.Samples[idx*2]) * g
		mix[i*2+1] += float64(v.pcm.Samples[idx*2+1]) * g
		v.pos += step
	}
	return v.pos >= v.end
}
