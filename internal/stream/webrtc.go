package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/livewave/internal/audio"
)

// Opus only runs at a handful of rates; 48 kHz with 20ms frames is what
// browsers expect.
const (
	OpusSampleRate  = 48000
	OpusFrameSize   = 960
	OpusFrameLength = 20 * time.Millisecond
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus streaming
// of the engine output.
type WebRTCHandler struct {
	broadcaster *Broadcaster[*audio.Block]
	sampleRate  int
	blockSize   int
	log         *zap.Logger

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler for blocks produced at
// sampleRate.
func NewWebRTCHandler(b *Broadcaster[*audio.Block], sampleRate, blockSize int, log *zap.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		sampleRate:  sampleRate,
		blockSize:   blockSize,
		log:         log.With(zap.String("component", "webrtc")),
		peers:       make(map[string]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
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
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"livewave",
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

	// Wait for ICE gathering to complete
	<-webrtc.GatheringCompletePromise(pc)

	id := uuid.NewString()
	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()

	log := h.log.With(zap.String("peer", id))
	log.Info("peer connected", zap.Int("peers", h.PeerCount()))

	listener := h.broadcaster.Subscribe()
	go h.streamToPeer(log, listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if h.removePeer(id) {
				h.broadcaster.Unsubscribe(listener)
				pc.Close()
				log.Info("peer disconnected", zap.Int("peers", h.PeerCount()))
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(log *zap.Logger, listener *Listener[*audio.Block], track *webrtc.TrackLocalStaticSample) {
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(OpusSampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Error("opus encoder", zap.Error(err))
		return
	}
	enc.SetBitrate(128000)

	rs, err := NewResampler(h.sampleRate, OpusSampleRate, h.blockSize)
	if err != nil {
		log.Error("resampler", zap.Error(err))
		return
	}
	defer rs.Close()

	frames := newFramer(OpusFrameSize)
	opusBuf := make([]byte, 4000)
	send := func(frame []float32) error {
		pcm := audio.ToInt16(audio.Interleave(frame))
		n, err := enc.Encode(pcm, opusBuf)
		if err != nil {
			log.Warn("opus encode", zap.Error(err))
			return nil
		}
		return track.WriteSample(media.Sample{Data: opusBuf[:n], Duration: OpusFrameLength})
	}

	for {
		select {
		case <-listener.Done():
			return
		case block, ok := <-listener.C:
			if !ok {
				return
			}
			resampled, err := rs.Process(block.Samples)
			if err != nil {
				log.Warn("resample", zap.Error(err))
				continue
			}
			if err := frames.push(resampled, send); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return false
	}
	delete(h.peers, id)
	return true
}
