package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

// Oto allows a single context per process; its sample rate is fixed by the
// first Open.
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoRate    int
	otoErr     error
)

func initOtoContext(ctx context.Context, sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoErr = err
			return
		}
		select {
		case <-ready:
		case <-ctx.Done():
			otoErr = ctx.Err()
			return
		}
		otoContext, otoRate = c, sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("oto context runs at %d Hz, requested %d Hz", otoRate, sampleRate)
	}
	return otoContext, nil
}

// OtoDevice plays through ebitengine/oto. Oto pulls bytes from a reader, so
// each Read that runs dry triggers one process call.
type OtoDevice struct {
	log *zap.Logger

	mu     sync.Mutex
	player *oto.Player
}

// NewOto creates an oto-backed device.
func NewOto(log *zap.Logger) *OtoDevice {
	return &OtoDevice{log: log}
}

// Open starts a player reading from process.
func (o *OtoDevice) Open(ctx context.Context, sampleRate, blockSize int, process func(left, right []float32)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return errAlreadyOpen
	}

	c, err := initOtoContext(ctx, sampleRate)
	if err != nil {
		return fmt.Errorf("oto context: %w", err)
	}

	player := c.NewPlayer(newBlockReader(blockSize, process))
	player.SetBufferSize(blockSize * audio.Channels * 4)
	player.Play()
	o.player = player

	o.log.Info("oto output opened", zap.Int("sample_rate", sampleRate), zap.Int("block_size", blockSize))
	return nil
}

// Close stops and releases the player. The shared context stays alive.
func (o *OtoDevice) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	player := o.player
	o.player = nil

	player.Pause()
	if err := player.Close(); err != nil {
		return fmt.Errorf("close player: %w", err)
	}
	return nil
}

// blockReader renders one block per refill and serves it as interleaved
// little-endian float32 frames.
type blockReader struct {
	process     func(left, right []float32)
	left, right []float32
	frames      []float32
	pending     []byte
}

func newBlockReader(blockSize int, process func(left, right []float32)) *blockReader {
	return &blockReader{
		process: process,
		left:    make([]float32, blockSize),
		right:   make([]float32, blockSize),
		frames:  make([]float32, 0, blockSize*audio.Channels),
	}
}

func (r *blockReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		r.process(r.left, r.right)
		r.frames = interleave(r.frames, r.left, r.right)
		r.pending = audio.Float32ToBytes(r.frames)
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
