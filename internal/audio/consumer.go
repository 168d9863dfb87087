package audio

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/metrics"
)

// Consumer is the body of the device callback. Each cycle it emits one block
// or, when none is ready, one block of silence, and then asks for more work.
// It never blocks and never evaluates a formula.
type Consumer struct {
	queue     *Queue
	transport *Transport
	request   func()
	tap       chan<- *Block
	log       *zap.Logger

	underruns atomic.Uint64
	played    atomic.Uint64
}

// NewConsumer wires a consumer. request is called once per cycle and must not
// block; tap receives every emitted block and may be nil.
func NewConsumer(q *Queue, tr *Transport, request func(), tap chan<- *Block, log *zap.Logger) *Consumer {
	return &Consumer{
		queue:     q,
		transport: tr,
		request:   request,
		tap:       tap,
		log:       log.With(zap.String("component", "consumer")),
	}
}

// Process fills one device buffer pair. Both slices are expected to be one
// block long; any remainder past the block is zeroed.
func (c *Consumer) Process(left, right []float32) {
	if b, ok := c.queue.Pop(); ok {
		n := copy(left, b.Samples)
		clear(left[n:])
		n = copy(right, b.Samples)
		clear(right[n:])

		c.transport.emitted(b)
		c.played.Add(1)
		if c.tap != nil {
			select {
			case c.tap <- b:
			default:
			}
		}
	} else {
		clear(left)
		clear(right)

		total := c.underruns.Add(1)
		metrics.Underruns.Inc()
		if ce := c.log.Check(zap.DebugLevel, "underrun, emitting silence"); ce != nil {
			ce.Write(zap.Uint64("underruns", total))
		}
	}
	c.request()
}

// Underruns returns how many cycles were served with silence.
func (c *Consumer) Underruns() uint64 {
	return c.underruns.Load()
}

// Played returns how many blocks reached the output.
func (c *Consumer) Played() uint64 {
	return c.played.Load()
}
