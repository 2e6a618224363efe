package audio

// Mono reduces f to one channel by averaging each frame.
// The result never aliases f.Samples.
func Mono(f Frames) []float32 {
	return downmixInterleaved(f.Samples, f.Channels, f.Len())
}

func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input)
		return out
	}

	div := float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		frame := input[i*channels : (i+1)*channels]
		for _, v := range frame {
			sum += v
		}
		out[i] = sum / div
	}
	return out
}
