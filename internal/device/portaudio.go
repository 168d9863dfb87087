package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// PortAudioDevice plays through the system default output via PortAudio.
type PortAudioDevice struct {
	log *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewPortAudio creates a device bound to the default output.
func NewPortAudio(log *zap.Logger) *PortAudioDevice {
	return &PortAudioDevice{log: log}
}

// Open initializes PortAudio and starts a non-interleaved stereo stream whose
// callback hands each channel buffer to process.
func (p *PortAudioDevice) Open(_ context.Context, sampleRate, blockSize int, process func(left, right []float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return errAlreadyOpen
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(0, 2, float64(sampleRate), blockSize, func(out [][]float32) {
		process(out[0], out[1])
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start stream: %w", err)
	}
	p.stream = stream

	if dev, err := portaudio.DefaultOutputDevice(); err == nil {
		p.log.Info("portaudio output opened",
			zap.String("name", dev.Name),
			zap.Int("sample_rate", sampleRate),
			zap.Int("frames_per_buffer", blockSize))
	}
	return nil
}

// Close stops the stream and releases PortAudio.
func (p *PortAudioDevice) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}

	stream := p.stream
	p.stream = nil

	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stop stream: %w", err)
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("terminate portaudio: %w", err)
	}
	return firstErr
}
