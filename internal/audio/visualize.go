package audio

// Frame is a short, display-sized view of one block.
type Frame []float32

// Downsample picks frameLength samples at a uniform stride of
// floor(len(samples)/frameLength), starting at index 0. It is a pure function.
func Downsample(samples []float32, frameLength int) Frame {
	frame := make(Frame, frameLength)
	if frameLength == 0 || len(samples) == 0 {
		return frame
	}
	step := len(samples) / frameLength
	for k := range frame {
		frame[k] = samples[k*step]
	}
	return frame
}
