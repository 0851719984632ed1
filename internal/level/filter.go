package level

import "bubble-level/internal/orientation"

// SmoothingAlpha is the fixed exponential smoothing coefficient.
const SmoothingAlpha = 0.1

// Filter is a per-axis exponential moving average. The zero value starts at
// (0, 0), so the first samples after startup are biased toward zero.
type Filter struct {
	alpha float64
	pitch float64
	roll  float64
}

func NewFilter() *Filter {
	return &Filter{alpha: SmoothingAlpha}
}

// Step folds one input into the state and returns the new filtered pair.
func (f *Filter) Step(in orientation.Angles) orientation.Angles {
	f.pitch += f.alpha * (in.PitchDeg - f.pitch)
	f.roll += f.alpha * (in.RollDeg - f.roll)
	return f.Value()
}

// Value returns the current filtered pair without advancing.
func (f *Filter) Value() orientation.Angles {
	return orientation.Angles{PitchDeg: f.pitch, RollDeg: f.roll}
}
