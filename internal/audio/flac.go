package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

func decodeFLAC(data []byte) (*PCM, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC decoder: %w", err)
	}
	defer stream.Close()

	numChans := int(stream.Info.NChannels)
	channels := make([][]float32, numChans)

	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		maxVal := float32(int64(1) << (frame.BitsPerSample - 1))
		for ch, sub := range frame.Subframes {
			if ch >= numChans {
				break
			}
			for _, s := range sub.Samples {
				channels[ch] = append(channels[ch], float32(s)/maxVal)
			}
		}
	}

	if numChans == 0 {
		return &PCM{SampleRate: int(stream.Info.SampleRate)}, nil
	}
	frames := len(channels[0])
	for _, c := range channels[1:] {
		if len(c) < frames {
			frames = len(c)
		}
	}
	return interleave(frames, numChans, int(stream.Info.SampleRate), func(frame, ch int) float32 {
		return channels[ch][frame]
	}), nil
}
