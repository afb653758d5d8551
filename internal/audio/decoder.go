package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
)

// ErrUnknownFormat is returned when no decoder recognises the data and the
// ffmpeg fallback is unavailable.
var ErrUnknownFormat = errors.New("unknown audio format")

// Format identifies a container/codec recognised by magic bytes.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatUnknown Format = "unknown"
)

// DetectFormat sniffs the leading bytes of an encoded file.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC")):
		return FormatFLAC
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// Decode decodes an encoded stem into stereo PCM. WAV, MP3 and FLAC are
// decoded in-process; anything else goes through ffmpeg.
func Decode(ctx context.Context, data []byte) (*PCM, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch DetectFormat(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	case FormatFLAC:
		return decodeFLAC(data)
	}
	return decodeFFmpeg(ctx, data)
}

// decodeFFmpeg pipes data through ffmpeg and reads back 48kHz stereo s16le.
func decodeFFmpeg(ctx context.Context, data []byte) (*PCM, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, ErrUnknownFormat
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]float32, len(out)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(out[i*2:i*2+2]))) / 32768
	}
	return &PCM{Samples: samples, SampleRate: SampleRate}, nil
}

// interleave builds a stereo PCM from per-channel sample access. Mono sources
// are duplicated to both sides; channels beyond the second are dropped.
func interleave(frames, channels, rate int, at func(frame, ch int) float32) *PCM {
	samples := make([]float32, frames*Channels)
	for i := 0; i < frames; i++ {
		l := at(i, 0)
		r := l
		if channels > 1 {
			r = at(i, 1)
		}
		samples[i*2] = l
		samples[i*2+1] = r
	}
	return &PCM{Samples: samples, SampleRate: rate}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
