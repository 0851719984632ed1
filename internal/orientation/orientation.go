package orientation

import (
	"fmt"
	"math"
)

// Vec3 is a 3-axis sensor vector in device coordinates.
type Vec3 [3]float64

// Angles is a pitch/roll pair in degrees.
type Angles struct {
	PitchDeg float64 `json:"pitch_deg"`
	RollDeg  float64 `json:"roll_deg"`
}

// Kind tags which representation a Sample carries.
type Kind int

const (
	KindFused Kind = iota + 1
	KindRawPair
)

func (k Kind) String() string {
	switch k {
	case KindFused:
		return "fused"
	case KindRawPair:
		return "pair"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sample is one orientation reading from a source.
//
// For KindFused, Vector holds a rotation vector (x, y, z[, w]).
// For KindRawPair, Accel (m/s^2) and Mag (uT) hold the latest raw vectors.
type Sample struct {
	Kind   Kind
	Vector []float64
	Accel  Vec3
	Mag    Vec3
}

func Fused(v ...float64) Sample {
	return Sample{Kind: KindFused, Vector: append([]float64(nil), v...)}
}

func RawPair(accel, mag Vec3) Sample {
	return Sample{Kind: KindRawPair, Accel: accel, Mag: mag}
}

// DisplayRotation is the quarter-turn state of the display.
type DisplayRotation int

const (
	Rotation0 DisplayRotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// ParseDegrees maps 0/90/180/270 to a DisplayRotation.
func ParseDegrees(deg int) (DisplayRotation, error) {
	switch deg {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	}
	return Rotation0, fmt.Errorf("orientation: invalid display rotation %d (want 0, 90, 180 or 270)", deg)
}

func (r DisplayRotation) Degrees() int {
	return int(r) * 90
}

// Resolve converts a sample into unfiltered pitch/roll.
//
// The fused path remaps the rotation matrix for the display rotation; the raw
// pair path never does. ok is false when the sample cannot produce angles
// (degenerate raw geometry, an empty rotation vector or non-finite values)
// and must be dropped.
func Resolve(s Sample, rot DisplayRotation) (Angles, bool) {
	var a Angles
	switch s.Kind {
	case KindFused:
		if len(s.Vector) < 3 || !finite(s.Vector...) {
			return Angles{}, false
		}
		r := MatrixFromVector(s.Vector)
		out, err := Remap(r, rot)
		if err != nil {
			return Angles{}, false
		}
		a = anglesOf(out)
	case KindRawPair:
		if !finite(s.Accel[:]...) || !finite(s.Mag[:]...) {
			return Angles{}, false
		}
		r, ok := MatrixFromAccelMag(s.Accel, s.Mag)
		if !ok {
			return Angles{}, false
		}
		a = anglesOf(r)
	default:
		return Angles{}, false
	}
	// Finite but huge inputs can still overflow inside the matrix math.
	if !finite(a.PitchDeg, a.RollDeg) {
		return Angles{}, false
	}
	return a, true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func anglesOf(r Matrix) Angles {
	_, pitch, roll := r.Orientation()
	return Angles{
		PitchDeg: pitch * 180 / math.Pi,
		RollDeg:  roll * 180 / math.Pi,
	}
}
