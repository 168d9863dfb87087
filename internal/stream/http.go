package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

// HTTPHandler serves a chunked MP3 audio stream via HTTP.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster[*audio.Block]
	sampleRate  int
	log         *zap.Logger
}

// NewHTTPHandler creates an HTTP stream handler for mono float blocks at sampleRate.
func NewHTTPHandler(b *Broadcaster[*audio.Block], sampleRate int, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		broadcaster: b,
		sampleRate:  sampleRate,
		log:         log.With(zap.String("component", "http_stream")),
	}
}

// ffmpegArgs reads raw mono float32 from stdin and writes stereo MP3 to stdout.
func ffmpegArgs(sampleRate int) []string {
	return []string{
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-ac", "2",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(h.sampleRate)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	if err := cmd.Start(); err != nil {
		h.log.Error("ffmpeg start", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "livewave")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("listener connected", zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer h.log.Info("listener disconnected")

	// Feed PCM blocks to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case block, ok := <-listener.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.Float32ToBytes(block.Samples)); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn("ffmpeg read", zap.Error(err))
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
