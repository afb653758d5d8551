package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// RampGain returns the gain for sample i of n when moving from one gain level
// to another across a single frame, along a smoothstep curve.
func RampGain(from, to float64, i, n int) float64 {
	if from == to || n <= 1 {
		return to
	}
	return from + (to-from)*Smoothstep(float64(i)/float64(n-1))
}

// ClipToInt16 converts a mixed float sample in [-1, 1] to int16, clipping
// anything outside the range.
func ClipToInt16(v float64) int16 {
	s := v * 32767
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}
