package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Settings  SettingsConfig  `yaml:"settings"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Web       WebConfig       `yaml:"web"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Indicator IndicatorConfig `yaml:"indicator"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type SensorConfig struct {
	// Source is one of: sim, imu, mqtt, replay.
	Source          string        `yaml:"source"`
	Interval        time.Duration `yaml:"interval"`
	DisplayRotation int           `yaml:"display_rotation"`

	I2CBus  int    `yaml:"i2c_bus"`
	IMUAddr uint16 `yaml:"imu_addr"`
	MagAddr uint16 `yaml:"mag_addr"`

	Replay ReplayConfig `yaml:"replay"`
	Record RecordConfig `yaml:"record"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	// Fused prefers the rotation-vector topic; otherwise accel+mag topics are used.
	Fused *bool `yaml:"fused"`
	// FusedTimeout is how long a fused source waits for its first rotation
	// vector before switching to accel+mag for the session.
	FusedTimeout time.Duration `yaml:"fused_timeout"`
}

type IndicatorConfig struct {
	Enable  bool          `yaml:"enable"`
	GPIOPin int           `yaml:"gpio_pin"`
	Pulse   time.Duration `yaml:"pulse"`
}

const (
	SourceSim    = "sim"
	SourceIMU    = "imu"
	SourceMQTT   = "mqtt"
	SourceReplay = "replay"
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			for _, msg := range te.Errors {
				if strings.Contains(msg, "not found in type") {
					return Config{}, fmt.Errorf("config contains unknown fields: %s", trimLinePrefix(msg))
				}
			}
		}
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// trimLinePrefix drops the "line N: " prefix yaml.v3 puts on type errors.
func trimLinePrefix(msg string) string {
	if !strings.HasPrefix(msg, "line ") {
		return msg
	}
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// DefaultAndValidate fills defaults in place and rejects inconsistent values.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Settings.Path) == "" {
		cfg.Settings.Path = "./level-settings.yaml"
	}

	s := &cfg.Sensor
	s.Source = strings.ToLower(strings.TrimSpace(s.Source))
	if s.Source == "" {
		s.Source = SourceSim
	}
	switch s.Source {
	case SourceSim, SourceIMU, SourceMQTT, SourceReplay:
	default:
		return fmt.Errorf("sensor.source must be one of sim, imu, mqtt, replay (got %q)", s.Source)
	}
	if s.Interval <= 0 {
		s.Interval = 20 * time.Millisecond
	}
	switch s.DisplayRotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("sensor.display_rotation must be 0, 90, 180 or 270")
	}
	if s.I2CBus <= 0 {
		s.I2CBus = 1
	}
	if s.IMUAddr == 0 {
		s.IMUAddr = 0x68
	}
	if s.MagAddr == 0 {
		s.MagAddr = 0x0C
	}
	if s.IMUAddr > 0x7F || s.MagAddr > 0x7F {
		return fmt.Errorf("sensor i2c addresses must be 7-bit")
	}

	if s.Source == SourceReplay {
		if strings.TrimSpace(s.Replay.Path) == "" {
			return fmt.Errorf("sensor.replay.path is required when sensor.source is 'replay'")
		}
		if s.Replay.Speed == 0 {
			s.Replay.Speed = 1
		}
		if s.Replay.Speed < 0 {
			return fmt.Errorf("sensor.replay.speed must be > 0")
		}
	}
	if s.Record.Enable {
		if strings.TrimSpace(s.Record.Path) == "" {
			return fmt.Errorf("sensor.record.path is required when sensor.record.enable is true")
		}
		if s.Source == SourceReplay {
			return fmt.Errorf("sensor.record cannot be used with sensor.source 'replay'")
		}
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	m := &cfg.MQTT
	if s.Source == SourceMQTT && !m.Enable {
		return fmt.Errorf("mqtt.enable must be true when sensor.source is 'mqtt'")
	}
	if strings.TrimSpace(m.Broker) == "" {
		m.Broker = "tcp://localhost:1883"
	}
	if strings.TrimSpace(m.ClientID) == "" {
		m.ClientID = "bubble-level"
	}
	m.TopicPrefix = strings.Trim(strings.TrimSpace(m.TopicPrefix), "/")
	if m.TopicPrefix == "" {
		m.TopicPrefix = "level"
	}
	if m.Fused == nil {
		v := true
		m.Fused = &v
	}
	if m.FusedTimeout <= 0 {
		m.FusedTimeout = 5 * time.Second
	}

	ind := &cfg.Indicator
	if ind.Enable && ind.GPIOPin <= 0 {
		return fmt.Errorf("indicator.gpio_pin is required when indicator.enable is true")
	}
	if ind.Pulse <= 0 {
		ind.Pulse = 100 * time.Millisecond
	}

	return nil
}
