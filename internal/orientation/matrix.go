package orientation

import (
	"fmt"
	"math"
)

// Matrix is a row-major 3x3 rotation matrix mapping device to world
// coordinates (X east, Y north, Z up).
type Matrix [9]float64

const (
	standardGravity = 9.80665

	// Below this squared magnitude the device is treated as in free fall.
	freeFallGravitySquared = 0.01 * standardGravity * standardGravity
	minHorizontalNorm      = 0.1
)

// MatrixFromVector builds a rotation matrix from a rotation vector
// (x, y, z[, w]). Without w the scalar part is derived from the unit norm.
func MatrixFromVector(v []float64) Matrix {
	q1, q2, q3 := v[0], v[1], v[2]
	var q0 float64
	if len(v) >= 4 {
		q0 = v[3]
	} else {
		q0 = 1 - q1*q1 - q2*q2 - q3*q3
		if q0 > 0 {
			q0 = math.Sqrt(q0)
		} else {
			q0 = 0
		}
	}

	sqQ1 := 2 * q1 * q1
	sqQ2 := 2 * q2 * q2
	sqQ3 := 2 * q3 * q3
	q1q2 := 2 * q1 * q2
	q3q0 := 2 * q3 * q0
	q1q3 := 2 * q1 * q3
	q2q0 := 2 * q2 * q0
	q2q3 := 2 * q2 * q3
	q1q0 := 2 * q1 * q0

	return Matrix{
		1 - sqQ2 - sqQ3, q1q2 - q3q0, q1q3 + q2q0,
		q1q2 + q3q0, 1 - sqQ1 - sqQ3, q2q3 - q1q0,
		q1q3 - q2q0, q2q3 + q1q0, 1 - sqQ1 - sqQ2,
	}
}

// MatrixFromAccelMag builds a rotation matrix where gravity defines down and
// the magnetic field, orthogonalized against gravity, defines north.
// It reports false for free fall or near-parallel vectors.
func MatrixFromAccelMag(accel, mag Vec3) (Matrix, bool) {
	ax, ay, az := accel[0], accel[1], accel[2]
	ex, ey, ez := mag[0], mag[1], mag[2]

	if ax*ax+ay*ay+az*az < freeFallGravitySquared {
		return Matrix{}, false
	}

	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if normH < minHorizontalNorm {
		return Matrix{}, false
	}
	invH := 1 / normH
	hx *= invH
	hy *= invH
	hz *= invH

	invA := 1 / math.Sqrt(ax*ax+ay*ay+az*az)
	ax *= invA
	ay *= invA
	az *= invA

	mx := ay*hz - az*hy
	my := az*hx - ax*hz
	mz := ax*hy - ay*hx

	return Matrix{
		hx, hy, hz,
		mx, my, mz,
		ax, ay, az,
	}, true
}

// Orientation returns azimuth, pitch and roll in radians.
func (r Matrix) Orientation() (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(r[1], r[4])
	pitch = math.Asin(clampUnit(-r[7]))
	roll = math.Atan2(-r[6], r[8])
	return azimuth, pitch, roll
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Axis names a device axis for coordinate remapping. The high bit flips sign.
type Axis byte

const (
	AxisX      Axis = 0x01
	AxisY      Axis = 0x02
	AxisZ      Axis = 0x03
	AxisMinusX Axis = AxisX | 0x80
	AxisMinusY Axis = AxisY | 0x80
	AxisMinusZ Axis = AxisZ | 0x80
)

// remapRule is the (X, Y) axis pair selected for each display rotation.
var remapRule = [4][2]Axis{
	Rotation0:   {AxisX, AxisZ},
	Rotation90:  {AxisZ, AxisMinusX},
	Rotation180: {AxisMinusX, AxisMinusZ},
	Rotation270: {AxisMinusZ, AxisX},
}

// Remap applies the axis permutation assigned to rot.
func Remap(in Matrix, rot DisplayRotation) (Matrix, error) {
	if rot < Rotation0 || rot > Rotation270 {
		return Matrix{}, fmt.Errorf("orientation: invalid display rotation %d", int(rot))
	}
	rule := remapRule[rot]
	return RemapCoordinateSystem(in, rule[0], rule[1])
}

// RemapCoordinateSystem rotates the matrix so the device X and Y axes are
// mapped onto the given world-relative axes. Z follows from the right-hand rule.
func RemapCoordinateSystem(in Matrix, x, y Axis) (Matrix, error) {
	if x&0x7C != 0 || y&0x7C != 0 {
		return Matrix{}, fmt.Errorf("orientation: invalid remap axes 0x%02X, 0x%02X", byte(x), byte(y))
	}
	if x&0x3 == 0 || y&0x3 == 0 {
		return Matrix{}, fmt.Errorf("orientation: remap axis unset")
	}
	if x&0x3 == y&0x3 {
		return Matrix{}, fmt.Errorf("orientation: remap axes must differ")
	}

	z := x ^ y
	xi := int(x&0x3) - 1
	yi := int(y&0x3) - 1
	zi := int(z&0x3) - 1

	// Keep the result right-handed.
	axisY := (zi + 1) % 3
	axisZ := (zi + 2) % 3
	if (xi^axisY)|(yi^axisZ) != 0 {
		z ^= 0x80
	}

	sx := x >= 0x80
	sy := y >= 0x80
	sz := z >= 0x80

	var out Matrix
	for j := 0; j < 3; j++ {
		row := j * 3
		for i := 0; i < 3; i++ {
			if xi == i {
				out[row+i] = signed(in[row+0], sx)
			}
			if yi == i {
				out[row+i] = signed(in[row+1], sy)
			}
			if zi == i {
				out[row+i] = signed(in[row+2], sz)
			}
		}
	}
	return out, nil
}

func signed(v float64, neg bool) float64 {
	if neg {
		return -v
	}
	return v
}
