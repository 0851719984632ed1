package source

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bubble-level/internal/i2c"
	"bubble-level/internal/orientation"
	"bubble-level/internal/sensors/icm20948"
)

type IMUConfig struct {
	I2CBus   int
	IMUAddr  uint16
	MagAddr  uint16
	Interval time.Duration
}

type imuReader interface {
	Read() (icm20948.Sample, error)
}

// IMU polls an ICM-20948 and reports accel+mag raw pairs. The chip has no
// fused rotation vector, so samples are always raw pairs.
type IMU struct {
	cfg      IMUConfig
	rotation *Rotation

	mu      sync.Mutex
	bus     *i2c.Bus
	dev     imuReader
	readErr string
}

// OpenIMU opens the bus and initializes the device.
func OpenIMU(cfg IMUConfig, rot *Rotation) (*IMU, error) {
	if cfg.I2CBus == 0 {
		cfg.I2CBus = 1
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = icm20948.DefaultAddress()
	}
	if cfg.MagAddr == 0 {
		cfg.MagAddr = icm20948.DefaultMagAddress()
	}
	bus, err := i2c.OpenNumber(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("imu: open i2c bus %d: %w", cfg.I2CBus, err)
	}
	dev, err := icm20948.New(bus.Dev(cfg.IMUAddr), bus.Dev(cfg.MagAddr))
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("imu: init on %s: %w", bus.Path(), err)
	}
	return newIMU(cfg, rot, bus, dev), nil
}

func newIMU(cfg IMUConfig, rot *Rotation, bus *i2c.Bus, dev imuReader) *IMU {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	return &IMU{cfg: cfg, rotation: rot, bus: bus, dev: dev}
}

func (m *IMU) DisplayRotation() orientation.DisplayRotation {
	return m.rotation.Get()
}

func (m *IMU) Subscribe(fn func(orientation.Sample)) (*Subscription, error) {
	if m == nil {
		return nil, errors.New("imu: source is nil")
	}
	if fn == nil {
		return nil, errors.New("imu: callback is nil")
	}
	return poll(m.cfg.Interval, func(time.Time) (orientation.Sample, bool) {
		return m.next()
	}, fn), nil
}

func (m *IMU) next() (orientation.Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return orientation.Sample{}, false
	}
	s, err := m.dev.Read()
	if err != nil {
		// Log once per distinct error to keep a failing bus from flooding.
		if msg := err.Error(); msg != m.readErr {
			log.Printf("imu: read failed: %v", err)
			m.readErr = msg
		}
		return orientation.Sample{}, false
	}
	if m.readErr != "" {
		log.Printf("imu: reads recovered")
		m.readErr = ""
	}
	if !s.HaveMag {
		return orientation.Sample{}, false
	}
	return orientation.RawPair(s.Accel, s.Mag), true
}

func (m *IMU) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dev = nil
	if m.bus == nil {
		return nil
	}
	err := m.bus.Close()
	m.bus = nil
	return err
}
