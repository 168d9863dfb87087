package audio

import (
	"errors"

	"github.com/satindergrewal/livewave/internal/metrics"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("generation queue full")

// Queue hands finished blocks from the generator side to the consumer in
// production order. Push and Pop never block; one producer and one consumer
// may use it concurrently.
type Queue struct {
	ch chan *Block
}

// NewQueue creates a queue holding at most depth blocks.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan *Block, depth)}
}

// Push appends b.
func (q *Queue) Push(b *Block) error {
	select {
	case q.ch <- b:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop removes the oldest block. ok is false when the queue is empty.
func (q *Queue) Pop() (b *Block, ok bool) {
	select {
	case b = <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return b, true
	default:
		return nil, false
	}
}

// Len returns the number of waiting blocks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain discards every waiting block and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}
