package audio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

func TestKnownStem(t *testing.T) {
	for _, s := range []StemType{StemVocals, StemDrums, StemBass, StemGuitar, StemPiano, StemOther} {
		assert.True(t, KnownStem(s), s)
	}
	assert.False(t, KnownStem("kazoo"))
}

func TestPCMDuration(t *testing.T) {
	p := &PCM{Samples: make([]float32, 2*44100*3), SampleRate: 44100}
	assert.Equal(t, 3*time.Second, p.Duration())
	assert.Equal(t, time.Duration(0), (&PCM{}).Duration())
}

// --- Smoothstep / ramps ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Smoothstep(tt.input)
		if got != tt.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSmoothstepMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 100; i++ {
		x := float64(i) / 100.0
		val := Smoothstep(x)
		if val < prev {
			t.Errorf("Smoothstep not monotonic: f(%v)=%v < f(%v)=%v", x, val, float64(i-1)/100.0, prev)
		}
		prev = val
	}
}

func TestRampGainEndpoints(t *testing.T) {
	assert.Equal(t, 0.2, RampGain(0.2, 0.8, 0, FrameSize))
	assert.InDelta(t, 0.8, RampGain(0.2, 0.8, FrameSize-1, FrameSize), 1e-12)
	assert.Equal(t, 0.5, RampGain(0.5, 0.5, 300, FrameSize))
	assert.Equal(t, 0.9, RampGain(0.1, 0.9, 0, 1))
}

func TestClipToInt16(t *testing.T) {
	assert.Equal(t, int16(32767), ClipToInt16(1.5))
	assert.Equal(t, int16(-32768), ClipToInt16(-1.5))
	assert.Equal(t, int16(0), ClipToInt16(0))
}

// --- SamplesToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

// --- Format detection / decoding ---

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatWAV},
		{"riff not wave", []byte("RIFF\x00\x00\x00\x00AVI "), FormatUnknown},
		{"flac", []byte("fLaC\x00\x00"), FormatFLAC},
		{"mp3 id3", []byte("ID3\x04\x00"), FormatMP3},
		{"mp3 sync", []byte{0xFF, 0xFB, 0x90, 0x00}, FormatMP3},
		{"ogg", []byte("OggS\x00"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.data))
		})
	}
}

func writeTestWAV(t *testing.T, rate, chans, frames int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stem.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, chans, 1)
	data := make([]int, frames*chans)
	for i := range data {
		data[i] = 16384
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: rate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func TestDecodeWAVMono(t *testing.T) {
	raw := writeTestWAV(t, 8000, 1, 8000)
	pcm, err := Decode(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Equal(t, 8000, pcm.Frames())
	assert.Equal(t, time.Second, pcm.Duration())
	// mono is duplicated into both channels
	assert.InDelta(t, 0.5, pcm.Samples[0], 0.001)
	assert.InDelta(t, 0.5, pcm.Samples[1], 0.001)
}

// silentMP3 builds MPEG-1 Layer III frames (128 kbps, 44.1 kHz, stereo) with
// empty side info and main data, which decode to 1152 zero samples each.
func silentMP3(frames int) []byte {
	const frameSize = 417
	out := make([]byte, 0, frames*frameSize)
	for i := 0; i < frames; i++ {
		f := make([]byte, frameSize)
		copy(f, []byte{0xFF, 0xFB, 0x90, 0x00})
		out = append(out, f...)
	}
	return out
}

func TestDecodeMP3(t *testing.T) {
	raw := silentMP3(10)
	require.Equal(t, FormatMP3, DetectFormat(raw))

	pcm, err := Decode(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, 44100, pcm.SampleRate)
	assert.Equal(t, 10*1152, pcm.Frames())
	assert.Len(t, pcm.Samples, 2*10*1152)
	for _, s := range pcm.Samples {
		if s != 0 {
			t.Fatalf("silent frame decoded to %v", s)
		}
	}
}

func writeTestFLAC(t *testing.T, bps uint8, values []int32, frames int) []byte {
	t.Helper()
	channels := frame.ChannelsMono
	if len(values) == 2 {
		channels = frame.ChannelsLR
	}

	var buf bytes.Buffer
	enc, err := flac.NewEncoder(&buf, &meta.StreamInfo{
		BlockSizeMin:  uint16(frames),
		BlockSizeMax:  uint16(frames),
		SampleRate:    44100,
		NChannels:     uint8(len(values)),
		BitsPerSample: bps,
		NSamples:      uint64(frames),
	})
	require.NoError(t, err)

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(frames),
			SampleRate:        44100,
			Channels:          channels,
			BitsPerSample:     bps,
		},
	}
	for _, v := range values {
		samples := make([]int32, frames)
		for i := range samples {
			samples[i] = v
		}
		f.Subframes = append(f.Subframes, &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  frames,
		})
	}
	require.NoError(t, enc.WriteFrame(f))
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestDecodeFLAC(t *testing.T) {
	tests := []struct {
		name        string
		bps         uint8
		values      []int32
		left, right float32
	}{
		{"16-bit stereo", 16, []int32{16384, -8192}, 0.5, -0.25},
		{"24-bit mono", 24, []int32{1 << 22}, 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := writeTestFLAC(t, tt.bps, tt.values, 1000)
			require.Equal(t, FormatFLAC, DetectFormat(raw))

			pcm, err := Decode(context.Background(), raw)
			require.NoError(t, err)

			assert.Equal(t, 44100, pcm.SampleRate)
			assert.Equal(t, 1000, pcm.Frames())
			assert.InDelta(t, tt.left, pcm.Samples[0], 1e-6)
			assert.InDelta(t, tt.right, pcm.Samples[1], 1e-6)
			assert.InDelta(t, tt.left, pcm.Samples[2*999], 1e-6)
			assert.InDelta(t, tt.right, pcm.Samples[2*999+1], 1e-6)
		})
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decode(ctx, []byte("RIFF"))
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Software backend ---

func constPCM(value float32, frames int) *PCM {
	s := make([]float32, frames*Channels)
	for i := range s {
		s[i] = value
	}
	return &PCM{Samples: s, SampleRate: SampleRate}
}

func TestSoftVoiceThroughGainChain(t *testing.T) {
	s := NewSoft(zap.NewNop())
	c, err := s.NewContext()
	require.NoError(t, err)

	master, err := c.NewGain(nil)
	require.NoError(t, err)
	stem, err := c.NewGain(master)
	require.NoError(t, err)
	master.SetGain(0.5)

	v, err := c.NewVoice(constPCM(0.5, FrameSize*4), stem)
	require.NoError(t, err)
	v.Start(0, 0)

	frame := s.renderFrame()
	require.Len(t, frame, FrameSamples)
	want := ClipToInt16(0.25)
	assert.InDelta(t, want, frame[0], 1)
	assert.InDelta(t, want, frame[FrameSamples-1], 1)
}

func TestSoftVoiceEndsNaturally(t *testing.T) {
	s := NewSoft(zap.NewNop())
	c, _ := s.NewContext()
	g, _ := c.NewGain(nil)
	v, _ := c.NewVoice(constPCM(0.1, FrameSize*2), g)

	ended := 0
	v.OnEnded(func() { ended++ })
	v.Start(0, 0)

	s.renderFrame()
	assert.Equal(t, 0, ended)
	s.renderFrame()
	assert.Equal(t, 1, ended)
	s.renderFrame()
	assert.Equal(t, 1, ended, "callback fires once")
}

func TestSoftVoiceLengthAndRate(t *testing.T) {
	s := NewSoft(zap.NewNop())
	c, _ := s.NewContext()
	g, _ := c.NewGain(nil)
	v, _ := c.NewVoice(constPCM(0.1, SampleRate), g)

	ended := false
	v.OnEnded(func() { ended = true })
	v.SetRate(2)
	assert.Equal(t, 2.0, v.Rate())
	// 40ms of buffer at double rate lasts one 20ms frame
	v.Start(100*time.Millisecond, 40*time.Millisecond)
	s.renderFrame()
	assert.True(t, ended)
}

func TestSoftStopSuppressesEnded(t *testing.T) {
	s := NewSoft(zap.NewNop())
	c, _ := s.NewContext()
	g, _ := c.NewGain(nil)
	v, _ := c.NewVoice(constPCM(0.1, FrameSize), g)

	ended := false
	v.OnEnded(func() { ended = true })
	v.Start(0, 0)
	v.Stop()
	v.Stop()

	frame := s.renderFrame()
	assert.False(t, ended)
	assert.Equal(t, int16(0), frame[0])
}

func TestSoftContextClose(t *testing.T) {
	s := NewSoft(zap.NewNop())
	c, _ := s.NewContext()
	g, _ := c.NewGain(nil)
	v, _ := c.NewVoice(constPCM(0.3, FrameSize*10), g)
	v.Start(0, 0)
	assert.Equal(t, 1, s.ContextCount())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is ignored")
	assert.Equal(t, 0, s.ContextCount())

	frame := s.renderFrame()
	assert.Equal(t, int16(0), frame[0])

	_, err := c.NewGain(nil)
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestSoftClockMonotonic(t *testing.T) {
	s := NewSoft(zap.NewNop())
	a := s.Now()
	b := s.Now()
	assert.GreaterOrEqual(t, b, a)
}

func TestSoftRunStopsOnCancel(t *testing.T) {
	s := NewSoft(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case frame := <-s.Frames():
		assert.Len(t, frame, FrameSamples)
	case <-time.After(time.Second):
		t.Fatal("no frame rendered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
