package level

import (
	"math"

	"bubble-level/internal/orientation"
)

const (
	MinToleranceDeg = 0.5
	MaxToleranceDeg = 2.0
	MaxAngleDeg     = 45.0
)

// ClampTolerance forces a tolerance into [MinToleranceDeg, MaxToleranceDeg].
// NaN yields ok=false so callers can keep their previous value.
func ClampTolerance(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	return math.Max(MinToleranceDeg, math.Min(MaxToleranceDeg, v)), true
}

// Reading is the per-sample level result.
type Reading struct {
	PitchAdj     float64 `json:"pitch_deg_adj"`
	RollAdj      float64 `json:"roll_deg_adj"`
	PitchPercent float64 `json:"pitch_percent"`
	RollPercent  float64 `json:"roll_percent"`
	IsLeveled    bool    `json:"is_leveled"`
	WasLeveled   bool    `json:"was_leveled"`
}

// Evaluator decides levelness. There is no hysteresis: a reading exactly at
// the tolerance edge counts as level and the state flips as soon as it is crossed.
type Evaluator struct {
	ToleranceDeg float64
	MaxAngle     float64

	last bool
}

func NewEvaluator(toleranceDeg float64) *Evaluator {
	tol, ok := ClampTolerance(toleranceDeg)
	if !ok {
		tol = 1.0
	}
	return &Evaluator{ToleranceDeg: tol, MaxAngle: MaxAngleDeg}
}

// Evaluate computes a Reading. WasLeveled is the previous call's IsLeveled;
// the current result is stored only after it has been read.
func (e *Evaluator) Evaluate(adj orientation.Angles) Reading {
	leveled := math.Abs(adj.PitchDeg) <= e.ToleranceDeg && math.Abs(adj.RollDeg) <= e.ToleranceDeg
	r := Reading{
		PitchAdj:     adj.PitchDeg,
		RollAdj:      adj.RollDeg,
		PitchPercent: Percent(adj.PitchDeg, e.MaxAngle),
		RollPercent:  Percent(adj.RollDeg, e.MaxAngle),
		IsLeveled:    leveled,
		WasLeveled:   e.last,
	}
	e.last = leveled
	return r
}

// Percent maps an angle to [-100, 100] of maxAngle.
func Percent(v, maxAngle float64) float64 {
	return math.Max(-100, math.Min(100, v/maxAngle*100))
}
