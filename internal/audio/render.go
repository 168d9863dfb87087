package audio

import "math"

// Render evaluates f over [start, start+seconds) in consecutive blocks,
// handing each to emit. It uses the same sample timing as live playback, so
// a render matches what the device would have played from start.
func Render(f Evaluator, sampleRate, blockSize int, start, seconds float64, emit func(*Block) error) error {
	total := int(math.Round(seconds * float64(sampleRate)))
	for done := 0; done < total; done += blockSize {
		n := min(blockSize, total-done)
		b := Generate(GenerationRequest{
			BlockSize:   n,
			SampleRate:  sampleRate,
			CurrentTime: start + float64(done)/float64(sampleRate),
		}, f)
		if err := emit(b); err != nil {
			return err
		}
	}
	return nil
}
