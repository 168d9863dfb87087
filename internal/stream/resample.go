package stream

import (
	"fmt"
	"math"

	"github.com/dh1tw/gosamplerate"
)

// Resampler converts a mono stream between sample rates. It keeps filter
// state between calls, so each consumer needs its own.
type Resampler struct {
	src   *gosamplerate.Src
	ratio float64
}

// NewResampler prepares a converter for blocks of up to blockSize samples.
// Equal rates pass samples through untouched.
func NewResampler(from, to, blockSize int) (*Resampler, error) {
	if from == to {
		return &Resampler{ratio: 1}, nil
	}
	ratio := float64(to) / float64(from)
	if !gosamplerate.IsValidRatio(ratio) {
		return nil, fmt.Errorf("invalid resample ratio %d -> %d", from, to)
	}
	outLen := int(math.Ceil(float64(blockSize)*ratio)) + 256
	src, err := gosamplerate.New(gosamplerate.SRC_SINC_FASTEST, 1, outLen)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	return &Resampler{src: &src, ratio: ratio}, nil
}

// Process converts one block. The result is only valid until the next call.
func (r *Resampler) Process(in []float32) ([]float32, error) {
	if r.src == nil {
		return in, nil
	}
	return r.src.Process(in, r.ratio, false)
}

// Close releases the converter.
func (r *Resampler) Close() error {
	if r.src == nil {
		return nil
	}
	err := gosamplerate.Delete(*r.src)
	r.src = nil
	return err
}

// framer regroups a sample stream into fixed-size frames.
type framer struct {
	size int
	buf  []float32
}

func newFramer(size int) *framer {
	return &framer{size: size, buf: make([]float32, 0, size*2)}
}

// push appends in and calls emit for every complete frame. Frames passed to
// emit are reused afterwards.
func (f *framer) push(in []float32, emit func(frame []float32) error) error {
	f.buf = append(f.buf, in...)
	off := 0
	for len(f.buf)-off >= f.size {
		if err := emit(f.buf[off : off+f.size]); err != nil {
			return err
		}
		off += f.size
	}
	f.buf = append(f.buf[:0], f.buf[off:]...)
	return nil
}
