package audio

import (
	"bytes"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func decodeWAV(data []byte) (*PCM, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	numChans := int(decoder.NumChans)
	if numChans < 1 {
		return nil, fmt.Errorf("invalid WAV channel count %d", numChans)
	}
	maxVal := float32(goaudio.IntMaxSignedValue(int(decoder.BitDepth)))
	frames := len(buf.Data) / numChans

	return interleave(frames, numChans, int(decoder.SampleRate), func(frame, ch int) float32 {
		return float32(buf.Data[frame*numChans+ch]) / maxVal
	}), nil
}
