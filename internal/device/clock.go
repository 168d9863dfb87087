package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

var errAlreadyOpen = errors.New("device already open")

// ClockDevice pulls blocks at real-time pace without touching any sound
// hardware. Remote listeners still hear everything through the engine output.
type ClockDevice struct {
	log *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClock creates a headless device.
func NewClock(log *zap.Logger) *ClockDevice {
	return &ClockDevice{log: log}
}

// Open starts calling process once per block duration.
func (c *ClockDevice) Open(_ context.Context, sampleRate, blockSize int, process func(left, right []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errAlreadyOpen
	}

	period := time.Duration(audio.BlockDuration(blockSize, sampleRate) * float64(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done, period, blockSize, process)

	c.log.Info("clock output opened", zap.Duration("period", period))
	return nil
}

// Close stops the clock and waits for the last callback to return.
func (c *ClockDevice) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *ClockDevice) run(ctx context.Context, done chan<- struct{}, period time.Duration, blockSize int, process func(left, right []float32)) {
	defer close(done)

	left := make([]float32, blockSize)
	right := make([]float32, blockSize)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			process(left, right)
		}
	}
}
