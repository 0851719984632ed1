package level

import "bubble-level/internal/orientation"

// Offsets are the calibration zero points subtracted from filtered angles.
type Offsets struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Calibration holds offsets. Each capture overwrites; nothing accumulates.
type Calibration struct {
	offsets Offsets
}

func NewCalibration(o Offsets) *Calibration {
	return &Calibration{offsets: o}
}

func (c *Calibration) Offsets() Offsets { return c.offsets }

// CaptureRoll makes the given filtered roll the new X zero.
func (c *Calibration) CaptureRoll(filtered orientation.Angles) {
	c.offsets.Roll = filtered.RollDeg
}

// CapturePitch makes the given filtered pitch the new Y zero.
func (c *Calibration) CapturePitch(filtered orientation.Angles) {
	c.offsets.Pitch = filtered.PitchDeg
}

// CapturePlane captures both axes at once.
func (c *Calibration) CapturePlane(filtered orientation.Angles) {
	c.offsets = Offsets{Pitch: filtered.PitchDeg, Roll: filtered.RollDeg}
}

func (c *Calibration) Zero() {
	c.offsets = Offsets{}
}

// Apply subtracts the offsets from a filtered pair.
func (c *Calibration) Apply(filtered orientation.Angles) orientation.Angles {
	return orientation.Angles{
		PitchDeg: filtered.PitchDeg - c.offsets.Pitch,
		RollDeg:  filtered.RollDeg - c.offsets.Roll,
	}
}
