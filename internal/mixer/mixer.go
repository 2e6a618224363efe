// Package mixer merges the system and microphone captures into one mono track.
package mixer

import "math"

// Waveform is a finished mono recording.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length of w in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Mix combines two mono sequences recorded at the same rate.
//
// With one side empty the other is returned unchanged. Otherwise the shorter
// side is zero-padded at the tail and the two are averaged sample by sample,
// so peak level is halved where both sources overlap. Both empty yields nil.
func Mix(system, mic []float32) []float32 {
	switch {
	case len(system) == 0 && len(mic) == 0:
		return nil
	case len(mic) == 0:
		return clone(system)
	case len(system) == 0:
		return clone(mic)
	}

	long, short := system, mic
	if len(short) > len(long) {
		long, short = short, long
	}

	out := make([]float32, len(long))
	for i := range out {
		var s float32
		if i < len(short) {
			s = short[i]
		}
		out[i] = (long[i] + s) / 2
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var peak float64
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	return peak
}

func clone(s []float32) []float32 {
	out := make([]float32, len(s))
	copy(out, s)
	return out
}
