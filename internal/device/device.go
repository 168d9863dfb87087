// Package device provides the outputs the engine can pull audio through.
package device

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

// Names accepted by New.
const (
	PortAudio = "portaudio"
	Oto       = "oto"
	Clock     = "clock"
)

// New returns the output device registered under name.
func New(name string, log *zap.Logger) (audio.Device, error) {
	log = log.With(zap.String("device", name))
	switch name {
	case PortAudio:
		return NewPortAudio(log), nil
	case Oto:
		return NewOto(log), nil
	case Clock:
		return NewClock(log), nil
	default:
		return nil, fmt.Errorf("unknown device %q", name)
	}
}

// interleave writes left and right into dst as L R L R ... frames.
func interleave(dst, left, right []float32) []float32 {
	dst = dst[:0]
	for i := range left {
		dst = append(dst, left[i], right[i])
	}
	return dst
}
