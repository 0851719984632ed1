package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bubble-level/internal/config"
	"bubble-level/internal/orientation"
	"bubble-level/internal/replay"
	"bubble-level/internal/source"
)

func testConfig(t *testing.T, mutate func(*config.Config)) config.Config {
	t.Helper()
	var cfg config.Config
	if mutate != nil {
		mutate(&cfg)
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	return cfg
}

func TestOpenSource_Sim(t *testing.T) {
	cfg := testConfig(t, nil)
	rot := source.NewRotation(orientation.Rotation180)
	src, closeFn, err := openSource(cfg, rot, nil)
	if err != nil {
		t.Fatalf("openSource() error: %v", err)
	}
	defer func() { _ = closeFn() }()
	if _, ok := src.(*source.Sim); !ok {
		t.Fatalf("source=%T want *source.Sim", src)
	}
	if got := src.DisplayRotation(); got != orientation.Rotation180 {
		t.Fatalf("rotation=%v want 180", got)
	}
}

func TestOpenSource_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	if err := os.WriteFile(path, []byte("START\n0,fused,0,0,0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	cfg := testConfig(t, func(c *config.Config) {
		c.Sensor.Source = config.SourceReplay
		c.Sensor.Replay.Path = path
	})
	src, _, err := openSource(cfg, source.NewRotation(orientation.Rotation0), nil)
	if err != nil {
		t.Fatalf("openSource() error: %v", err)
	}
	if _, ok := src.(*source.Replay); !ok {
		t.Fatalf("source=%T want *source.Replay", src)
	}

	cfg.Sensor.Replay.Path = filepath.Join(t.TempDir(), "missing.log")
	if _, _, err := openSource(cfg, source.NewRotation(orientation.Rotation0), nil); err == nil {
		t.Fatalf("expected error for missing replay file")
	}
}

func TestOpenSource_MQTTNeedsClient(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Sensor.Source = config.SourceMQTT
		c.MQTT.Enable = true
	})
	if _, _, err := openSource(cfg, source.NewRotation(orientation.Rotation0), nil); err == nil {
		t.Fatalf("expected error without mqtt client")
	}
}

func TestOpenSource_Unknown(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Sensor.Source = "gyro"
	if _, _, err := openSource(cfg, source.NewRotation(orientation.Rotation0), nil); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestRecordTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.log")
	w, err := replay.CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	var got []orientation.Sample
	handle := recordTo(w, func(s orientation.Sample) { got = append(got, s) })
	handle(orientation.Fused(0, 0, 0, 1))
	handle(orientation.RawPair(orientation.Vec3{0, 0, 9.8}, orientation.Vec3{0, 20, -40}))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Writes after close fail; samples still flow.
	handle(orientation.Fused(0, 0, 0, 1))
	if len(got) != 3 {
		t.Fatalf("forwarded=%d want 3", len(got))
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	s := summarizeSampleLog(recs)
	if s.Fused != 1 || s.RawPairs != 1 {
		t.Fatalf("recorded summary=%+v", s)
	}
	if s.MaxDuration > time.Minute {
		t.Fatalf("maxDuration=%s", s.MaxDuration)
	}
}
