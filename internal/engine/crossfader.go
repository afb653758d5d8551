package engine

import "math"

// Curve selects how the crossfader position maps to deck gains.
type Curve string

const (
	CurveLinear     Curve = "linear"
	CurveEqualPower Curve = "equal_power"
	CurveSharp      Curve = "sharp"
)

// ParseCurve maps a curve name to a Curve. Unknown names fall back to linear.
func ParseCurve(name string) Curve {
	switch c := Curve(name); c {
	case CurveLinear, CurveEqualPower, CurveSharp:
		return c
	}
	return CurveLinear
}

// ComputeGains maps a crossfader value in [-100, 100] to the (deck 1, deck 2)
// gains for the given curve. Values outside the range are clamped.
//
// The linear curve only attenuates the deck on the far side: both decks stay
// at full gain at the centre and each keeps full gain across its own half.
func ComputeGains(value float64, curve Curve) (g1, g2 float64) {
	value = clamp(value, -100, 100)

	switch ParseCurve(string(curve)) {
	case CurveEqualPower:
		norm := (value + 100) / 200
		return math.Cos(norm * math.Pi / 2), math.Sin(norm * math.Pi / 2)

	case CurveSharp:
		if value <= -80 {
			return 1, 0
		}
		if value >= 80 {
			return 0, 1
		}
		norm := (value + 80) / 160
		return 1 - norm, norm
	}

	switch {
	case value > 0:
		return 1 - value/100, 1
	case value < 0:
		return 1, 1 - math.Abs(value)/100
	}
	return 1, 1
}

type crossfaderState struct {
	value  float64
	curve  Curve
	volume [2]float64
}

func newCrossfaderState(curve Curve) crossfaderState {
	return crossfaderState{curve: ParseCurve(string(curve)), volume: [2]float64{1, 1}}
}

// gains returns the master gain for each deck: curve gain times deck volume.
func (s crossfaderState) gains() [2]float64 {
	g1, g2 := ComputeGains(s.value, s.curve)
	return [2]float64{g1 * s.volume[0], g2 * s.volume[1]}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
