package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

func decodeMP3(data []byte) (*PCM, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// go-mp3 always outputs interleaved 16-bit stereo
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to read MP3 data: %w", err)
	}

	frames := len(raw) / 4
	return interleave(frames, 2, decoder.SampleRate(), func(frame, ch int) float32 {
		i := frame*4 + ch*2
		return float32(int16(raw[i])|int16(raw[i+1])<<8) / 32768
	}), nil
}
