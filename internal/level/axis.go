package level

import "bubble-level/internal/orientation"

// AxisConfig holds the user's axis inversion and swap choices.
type AxisConfig struct {
	InvertX bool `json:"invert_x"`
	InvertY bool `json:"invert_y"`
	SwapXY  bool `json:"swap_xy"`
}

// Apply adjusts a raw pair: swap first, then invert pitch (Y), then invert roll (X).
// The order matters when swap and an inversion are combined.
func (c AxisConfig) Apply(a orientation.Angles) orientation.Angles {
	p, r := a.PitchDeg, a.RollDeg
	if c.SwapXY {
		p, r = r, p
	}
	if c.InvertY {
		p = -p
	}
	if c.InvertX {
		r = -r
	}
	return orientation.Angles{PitchDeg: p, RollDeg: r}
}
