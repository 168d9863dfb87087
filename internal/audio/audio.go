package audio

import "time"

const (
	DefaultSampleRate  = 44100
	DefaultBlockSize   = 4096
	DefaultFrameLength = 256
	DefaultDuration    = 10.0 // seconds
	Channels           = 2
)

// Block is one run of mono samples covering [StartTime, EndTime).
// Ownership moves generator -> queue -> consumer; nobody writes to Samples
// after it has been pushed.
type Block struct {
	Samples   []float32
	StartTime float64
	EndTime   float64

	epoch uint64
}

// Duration returns the playback length of the block.
func (b *Block) Duration() time.Duration {
	return time.Duration((b.EndTime - b.StartTime) * float64(time.Second))
}

// GenerationRequest asks the generator for BlockSize samples from CurrentTime.
type GenerationRequest struct {
	BlockSize   int
	SampleRate  int
	CurrentTime float64

	epoch uint64
}

// BlockDuration returns the length of one block in seconds.
func BlockDuration(blockSize, sampleRate int) float64 {
	return float64(blockSize) / float64(sampleRate)
}
