package level

import (
	"log"
	"sync"
	"time"

	"bubble-level/internal/orientation"
	"bubble-level/internal/settings"
)

// State is the published view of a session: the latest reading plus the live
// copies of every user setting.
type State struct {
	Reading
	AxisConfig

	ToleranceDeg float64 `json:"tolerance_deg"`
	MaxAngleDeg  float64 `json:"max_angle_deg"`
	OffsetPitch  float64 `json:"offset_pitch"`
	OffsetRoll   float64 `json:"offset_roll"`
	DarkTheme    bool    `json:"dark_theme"`
	Sound        bool    `json:"sound"`

	Samples      uint64    `json:"samples"`
	UpdatedAt    time.Time `json:"updated_at"`
	PersistError string    `json:"persist_error,omitempty"`
}

// JustLeveled reports the level-reached edge used for feedback.
func (s State) JustLeveled() bool {
	return s.IsLeveled && !s.WasLeveled
}

// Sink receives a State after every processed sample and control call.
// Publish is called with the session lock held and must not block.
type Sink interface {
	Publish(State)
}

type SinkFunc func(State)

func (f SinkFunc) Publish(st State) { f(st) }

type Options struct {
	Store    settings.Store
	Sink     Sink
	Rotation func() orientation.DisplayRotation
	Now      func() time.Time
}

// Session owns the filter, calibration, axis and evaluator state. A single
// mutex serializes sample processing and control calls.
type Session struct {
	store    settings.Store
	sink     Sink
	rotation func() orientation.DisplayRotation
	now      func() time.Time

	mu     sync.Mutex
	axis   AxisConfig
	filter *Filter
	cal    *Calibration
	eval   *Evaluator
	prefs  preferences
	state  State
}

type preferences struct {
	darkTheme bool
	sound     bool
}

// NewSession loads persisted settings (defaults when absent or unreadable).
func NewSession(opts Options) *Session {
	rec := settings.Defaults()
	if opts.Store != nil {
		loaded, err := opts.Store.Load()
		if err != nil {
			log.Printf("level: settings load failed, using defaults: %v", err)
		} else {
			rec = loaded
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		store:    opts.Store,
		sink:     opts.Sink,
		rotation: opts.Rotation,
		now:      opts.Now,
		axis:     AxisConfig{InvertX: rec.InvertX, InvertY: rec.InvertY, SwapXY: rec.SwapXY},
		filter:   NewFilter(),
		cal:      NewCalibration(Offsets{Pitch: rec.OffsetPitch, Roll: rec.OffsetRoll}),
		eval:     NewEvaluator(rec.Tolerance),
		prefs:    preferences{darkTheme: rec.DarkTheme, sound: rec.Sound},
	}
	s.syncLocked()
	return s
}

// Process runs one sample through the pipeline. It returns false when the
// sample was dropped (degenerate geometry), in which case nothing changes.
func (s *Session) Process(sample orientation.Sample) bool {
	rot := orientation.Rotation0
	if s.rotation != nil {
		rot = s.rotation()
	}
	raw, ok := orientation.Resolve(sample, rot)
	if !ok {
		return false
	}
	s.ProcessAngles(raw)
	return true
}

// ProcessAngles runs an already resolved pair through adjust, filter,
// calibration and evaluation, then publishes.
func (s *Session) ProcessAngles(raw orientation.Angles) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.filter.Step(s.axis.Apply(raw))
	s.state.Reading = s.eval.Evaluate(s.cal.Apply(filtered))
	s.state.Samples++
	s.state.UpdatedAt = s.now()
	s.publishLocked()
	return s.state
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Filtered returns the current smoothed pair, the basis for calibration.
func (s *Session) Filtered() orientation.Angles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Value()
}

// CalibrateX zeroes the roll axis at the current filtered roll.
func (s *Session) CalibrateX() {
	s.mutate(func() { s.cal.CaptureRoll(s.filter.Value()) })
}

// CalibrateY zeroes the pitch axis at the current filtered pitch.
func (s *Session) CalibrateY() {
	s.mutate(func() { s.cal.CapturePitch(s.filter.Value()) })
}

// CalibratePlane zeroes both axes at the current filtered pair.
func (s *Session) CalibratePlane() {
	s.mutate(func() { s.cal.CapturePlane(s.filter.Value()) })
}

// CalibrateAll is an alias of CalibratePlane.
func (s *Session) CalibrateAll() {
	s.CalibratePlane()
}

func (s *Session) ZeroOffsets() {
	s.mutate(s.cal.Zero)
}

// SetTolerance clamps v into [0.5, 2.0] and returns the tolerance in effect.
// NaN leaves the tolerance unchanged.
func (s *Session) SetTolerance(v float64) float64 {
	var applied float64
	s.mutate(func() {
		if tol, ok := ClampTolerance(v); ok {
			s.eval.ToleranceDeg = tol
		}
		applied = s.eval.ToleranceDeg
	})
	return applied
}

func (s *Session) SetInvertX(on bool) {
	s.mutate(func() { s.axis.InvertX = on })
}

func (s *Session) SetInvertY(on bool) {
	s.mutate(func() { s.axis.InvertY = on })
}

func (s *Session) SetSwapXY(on bool) {
	s.mutate(func() { s.axis.SwapXY = on })
}

func (s *Session) SetDarkTheme(on bool) {
	s.mutate(func() { s.prefs.darkTheme = on })
}

func (s *Session) SetSound(on bool) {
	s.mutate(func() { s.prefs.sound = on })
}

// mutate applies a control change, persists the full record and publishes.
func (s *Session) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.syncLocked()
	s.persistLocked()
	s.publishLocked()
}

func (s *Session) syncLocked() {
	off := s.cal.Offsets()
	s.state.AxisConfig = s.axis
	s.state.ToleranceDeg = s.eval.ToleranceDeg
	s.state.MaxAngleDeg = s.eval.MaxAngle
	s.state.OffsetPitch = off.Pitch
	s.state.OffsetRoll = off.Roll
	s.state.DarkTheme = s.prefs.darkTheme
	s.state.Sound = s.prefs.sound
}

func (s *Session) record() settings.Record {
	off := s.cal.Offsets()
	return settings.Record{
		OffsetPitch: off.Pitch,
		OffsetRoll:  off.Roll,
		Tolerance:   s.eval.ToleranceDeg,
		DarkTheme:   s.prefs.darkTheme,
		Sound:       s.prefs.sound,
		InvertX:     s.axis.InvertX,
		InvertY:     s.axis.InvertY,
		SwapXY:      s.axis.SwapXY,
	}
}

// persistLocked is best-effort: a failed write is logged and the in-memory
// state stays authoritative.
func (s *Session) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.record()); err != nil {
		log.Printf("level: persist settings failed: %v", err)
		s.state.PersistError = err.Error()
		return
	}
	s.state.PersistError = ""
}

func (s *Session) publishLocked() {
	if s.sink == nil {
		return
	}
	s.sink.Publish(s.state)
}
