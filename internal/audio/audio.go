package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// StemType names one isolated component of a track.
type StemType string

const (
	StemVocals StemType = "vocals"
	StemDrums  StemType = "drums"
	StemBass   StemType = "bass"
	StemGuitar StemType = "guitar"
	StemPiano  StemType = "piano"
	StemOther  StemType = "other"
)

// KnownStem reports whether s is one of the stem types produced by the separator.
func KnownStem(s StemType) bool {
	switch s {
	case StemVocals, StemDrums, StemBass, StemGuitar, StemPiano, StemOther:
		return true
	}
	return false
}

// Buffer is decoded, immutable audio that voices play from.
type Buffer interface {
	Duration() time.Duration
}

// PCM is a decoded stereo buffer with interleaved float32 samples in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Frames returns the number of sample frames (one sample per channel).
func (p *PCM) Frames() int {
	return len(p.Samples) / Channels
}

// Duration returns the playback length at rate 1.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}
