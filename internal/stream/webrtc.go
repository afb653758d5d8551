package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/stemdeck/internal/audio"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest Opus packet we ask the encoder for.
const maxOpusPacket = 4000

// WebRTCHandler negotiates WebRTC sessions that carry the master mix as Opus,
// for low-latency monitoring.
type WebRTCHandler struct {
	monitor *Monitor
	bitrate int
	log     *zap.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a WebRTC monitor handler encoding at bitrate bits/s.
func NewWebRTCHandler(m *Monitor, bitrate int, log *zap.Logger) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	return &WebRTCHandler{
		monitor: m,
		bitrate: bitrate,
		log:     log,
		peers:   make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.peers = make(map[*webrtc.PeerConnection]struct{})
	h.mu.Unlock()

	for _, pc := range peers {
		pc.Close()
	}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		h.log.Error("webrtc: create peer connection", zap.Error(err))
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"stemdeck-monitor",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// non-trickle: answer once every candidate is in the SDP
	<-webrtc.GatheringCompletePromise(pc)

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()

	l := h.monitor.Subscribe("webrtc")
	go h.streamToPeer(l, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.removePeer(pc)
			h.monitor.Unsubscribe(l)
			pc.Close()
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(l *Listener, track *webrtc.TrackLocalStaticSample) {
	defer h.monitor.Unsubscribe(l)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.log.Error("webrtc: opus encoder", zap.Error(err))
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.log.Warn("webrtc: set opus bitrate", zap.Int("bitrate", h.bitrate), zap.Error(err))
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.log.Warn("webrtc: opus encode", zap.Error(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	delete(h.peers, pc)
	h.mu.Unlock()
}
