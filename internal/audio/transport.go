package audio

import (
	"math"
	"sync"
)

// TransportStatus is a snapshot of the transport.
type TransportStatus struct {
	Playing    bool    `json:"playing"`
	Position   float64 `json:"position"` // seconds of audio emitted, moved by seek
	Cursor     float64 `json:"cursor"`   // start of the next block to generate
	InFlight   int     `json:"in_flight"`
	SampleRate int     `json:"sample_rate"`
	BlockSize  int     `json:"block_size"`
	Duration   float64 `json:"duration"`
}

// Transport tracks playback position. The generation cursor advances as
// blocks come back from the generator; the playhead advances only as blocks
// are actually emitted, so underruns never move it.
//
// Every critical section is a few assignments; the device callback may take
// the lock.
type Transport struct {
	mu       sync.Mutex
	playing  bool
	cursor   float64
	playhead float64
	inflight int
	epoch    uint64
	minEpoch uint64 // results older than this are discarded outright

	sampleRate int
	blockSize  int
	duration   float64
}

// NewTransport creates a stopped transport at time zero.
func NewTransport(sampleRate, blockSize int, durationSeconds float64) *Transport {
	return &Transport{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		duration:   durationSeconds,
	}
}

// Seek moves both cursor and playhead to position*duration, with position
// clamped to [0,1]. Requests issued before the seek become stale.
func (tr *Transport) Seek(position float64) float64 {
	switch {
	case position < 0 || math.IsNaN(position):
		position = 0
	case position > 1:
		position = 1
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.cursor = position * tr.duration
	tr.playhead = tr.cursor
	tr.inflight = 0
	tr.epoch++
	return tr.cursor
}

// Duration returns the seekable length in seconds.
func (tr *Transport) Duration() float64 {
	return tr.duration
}

// SampleRate returns the playback rate.
func (tr *Transport) SampleRate() int {
	return tr.sampleRate
}

// BlockSize returns the number of samples per block.
func (tr *Transport) BlockSize() int {
	return tr.blockSize
}

// IsPlaying reports whether the consumer is running.
func (tr *Transport) IsPlaying() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.playing
}

// Position returns the playhead in seconds.
func (tr *Transport) Position() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.playhead
}

// Cursor returns the start time of the next block to be generated.
func (tr *Transport) Cursor() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.cursor
}

// Status returns a consistent snapshot.
func (tr *Transport) Status() TransportStatus {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return TransportStatus{
		Playing:    tr.playing,
		Position:   tr.playhead,
		Cursor:     tr.cursor,
		InFlight:   tr.inflight,
		SampleRate: tr.sampleRate,
		BlockSize:  tr.blockSize,
		Duration:   tr.duration,
	}
}

func (tr *Transport) setPlaying(playing bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.playing = playing
}

// rewind drops every outstanding request and moves the cursor back to the
// playhead, so that resuming continues from what was last heard.
func (tr *Transport) rewind() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.cursor = tr.playhead
	tr.inflight = 0
	tr.epoch++
	tr.minEpoch = tr.epoch
}

// next reserves the next request if fewer than maxInFlight are outstanding.
// Outstanding requests cover consecutive ranges after the cursor.
func (tr *Transport) next(maxInFlight int) (GenerationRequest, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.inflight >= maxInFlight {
		return GenerationRequest{}, false
	}
	req := GenerationRequest{
		BlockSize:   tr.blockSize,
		SampleRate:  tr.sampleRate,
		CurrentTime: tr.cursor + float64(tr.inflight)*BlockDuration(tr.blockSize, tr.sampleRate),
		epoch:       tr.epoch,
	}
	tr.inflight++
	return req, true
}

// cancel releases a reservation that could not be delivered.
func (tr *Transport) cancel(req GenerationRequest) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if req.epoch == tr.epoch && tr.inflight > 0 {
		tr.inflight--
	}
}

// completion classifies a generator result against the transport.
type completion int

const (
	completionCurrent   completion = iota
	completionStale                // requested before the last seek
	completionDiscarded            // requested before the last pause
)

// complete settles a request. A current-epoch result advances the cursor to
// the end of the requested range, even when no block was produced, so later
// reservations never repeat it.
func (tr *Transport) complete(req GenerationRequest, b *Block) completion {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	switch {
	case req.epoch < tr.minEpoch:
		return completionDiscarded
	case req.epoch != tr.epoch:
		return completionStale
	}
	if tr.inflight > 0 {
		tr.inflight--
	}
	end := req.CurrentTime + BlockDuration(req.BlockSize, req.SampleRate)
	if b != nil {
		end = b.EndTime
	}
	tr.cursor = math.Max(tr.cursor, end)
	return completionCurrent
}

// emitted moves the playhead to the end of a block that reached the device.
// Blocks rendered before the last seek leave it where the seek put it.
func (tr *Transport) emitted(b *Block) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if b.epoch == tr.epoch {
		tr.playhead = b.EndTime
	}
}
