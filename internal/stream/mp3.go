package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
)

// MP3Handler serves the master mix as a chunked MP3 stream. Each request
// spawns an ffmpeg process that encodes PCM to MP3 in real time.
type MP3Handler struct {
	monitor *Monitor
	bitrate string
	log     *zap.Logger
}

// NewMP3Handler creates an MP3 monitor handler. bitrate is passed to ffmpeg
// as-is, e.g. "192k".
func NewMP3Handler(m *Monitor, bitrate string, log *zap.Logger) *MP3Handler {
	if bitrate == "" {
		bitrate = "192k"
	}
	return &MP3Handler{monitor: m, bitrate: bitrate, log: log}
}

// mp3Args returns the ffmpeg arguments for PCM stdin to MP3 stdout.
func mp3Args(bitrate string) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *MP3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", mp3Args(h.bitrate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error("mp3 stream: start ffmpeg", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("ICY-Name", "stemdeck monitor")

	l := h.monitor.Subscribe("http")
	defer h.monitor.Unsubscribe(l)

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Done():
				return
			case frame, ok := <-l.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn("mp3 stream: read ffmpeg output", zap.Error(err))
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
