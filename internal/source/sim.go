package source

import (
	"errors"
	"math"
	"time"

	"bubble-level/internal/orientation"
)

// Sim is a fused source describing a phone held upright in portrait that
// slowly wobbles around level.
type Sim struct {
	Interval time.Duration
	Rotation *Rotation

	PitchAmpDeg float64
	RollAmpDeg  float64
	PitchPeriod time.Duration
	RollPeriod  time.Duration

	start time.Time
}

func NewSim(interval time.Duration, rot *Rotation) *Sim {
	return &Sim{
		Interval:    interval,
		Rotation:    rot,
		PitchAmpDeg: 4,
		RollAmpDeg:  3,
		PitchPeriod: 7 * time.Second,
		RollPeriod:  11 * time.Second,
		start:       time.Now(),
	}
}

func (s *Sim) DisplayRotation() orientation.DisplayRotation {
	return s.Rotation.Get()
}

func (s *Sim) Subscribe(fn func(orientation.Sample)) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("sim: callback is nil")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return poll(interval, func(now time.Time) (orientation.Sample, bool) {
		return s.SampleAt(now.Sub(s.start)), true
	}, fn), nil
}

// SampleAt returns the rotation vector (x, y, z, w) at elapsed time t.
// Resolved with Rotation0 it yields exactly the wobble angles.
func (s *Sim) SampleAt(t time.Duration) orientation.Sample {
	pitch := wave(s.PitchAmpDeg, s.PitchPeriod, t)
	roll := wave(s.RollAmpDeg, s.RollPeriod, t)

	// Tilt back from flat to upright, then turn in the screen plane.
	tilt := (90 - pitch) * math.Pi / 180
	turn := -roll * math.Pi / 180
	ax, aw := math.Sin(tilt/2), math.Cos(tilt/2)
	bz, bw := math.Sin(turn/2), math.Cos(turn/2)

	return orientation.Fused(ax*bw, -ax*bz, aw*bz, aw*bw)
}

func wave(amp float64, period, t time.Duration) float64 {
	if period <= 0 || amp == 0 {
		return 0
	}
	phase := float64(t%period) / float64(period)
	return amp * math.Sin(2*math.Pi*phase)
}
