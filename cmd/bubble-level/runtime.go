package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"bubble-level/internal/bridge"
	"bubble-level/internal/config"
	"bubble-level/internal/indicator"
	"bubble-level/internal/level"
	"bubble-level/internal/orientation"
	"bubble-level/internal/replay"
	"bubble-level/internal/settings"
	"bubble-level/internal/source"
	"bubble-level/internal/web"
)

// run wires the configured source into a level session and serves it until
// ctx is done.
func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	initial, err := orientation.ParseDegrees(cfg.Sensor.DisplayRotation)
	if err != nil {
		return err
	}
	rot := source.NewRotation(initial)
	states := web.NewStateBroadcaster()

	var mq *bridge.Client
	if cfg.MQTT.Enable {
		mq, err = bridge.Connect(bridge.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return err
		}
		defer mq.Close()
	}

	src, closeSrc, err := openSource(cfg, rot, mq)
	if err != nil {
		return err
	}
	defer func() { _ = closeSrc() }()

	session := level.NewSession(level.Options{
		Store:    &settings.FileStore{Path: cfg.Settings.Path},
		Sink:     states,
		Rotation: src.DisplayRotation,
	})

	handle := func(s orientation.Sample) { session.Process(s) }
	if cfg.Sensor.Record.Enable {
		w, err := replay.CreateWriter(cfg.Sensor.Record.Path)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("record: close failed: %v", err)
			}
		}()
		log.Printf("record: writing samples to %s", cfg.Sensor.Record.Path)
		handle = recordTo(w, handle)
	}

	sub, err := src.Subscribe(handle)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if mq != nil {
		id, ch := states.Subscribe(16)
		defer states.Unsubscribe(id)
		go bridge.NewPublisher(mq).Run(ctx, ch)
	}

	if cfg.Indicator.Enable {
		ind, err := indicator.Open(indicator.Config{GPIOPin: cfg.Indicator.GPIOPin, Pulse: cfg.Indicator.Pulse})
		if err != nil {
			// Keep running without feedback.
			log.Printf("indicator init failed: %v", err)
		} else {
			defer func() { _ = ind.Close() }()
			id, ch := states.Subscribe(16)
			defer states.Unsubscribe(id)
			go ind.Run(ctx, ch)
		}
	}

	log.Printf("web: listening on %s", cfg.Web.Listen)
	return web.Serve(ctx, cfg.Web.Listen, web.Handler(session, rot, states, logs))
}

// openSource builds the configured sample source and its cleanup.
func openSource(cfg config.Config, rot *source.Rotation, mq *bridge.Client) (source.Source, func() error, error) {
	noop := func() error { return nil }
	s := cfg.Sensor
	switch s.Source {
	case config.SourceSim:
		return source.NewSim(s.Interval, rot), noop, nil
	case config.SourceIMU:
		imu, err := source.OpenIMU(source.IMUConfig{
			I2CBus:   s.I2CBus,
			IMUAddr:  s.IMUAddr,
			MagAddr:  s.MagAddr,
			Interval: s.Interval,
		}, rot)
		if err != nil {
			return nil, nil, err
		}
		return imu, imu.Close, nil
	case config.SourceReplay:
		r, err := source.OpenReplay(s.Replay.Path, s.Replay.Speed, s.Replay.Loop, rot)
		if err != nil {
			return nil, nil, err
		}
		return r, noop, nil
	case config.SourceMQTT:
		if mq == nil {
			return nil, nil, fmt.Errorf("mqtt source requires mqtt.enable")
		}
		fused := cfg.MQTT.Fused == nil || *cfg.MQTT.Fused
		src := bridge.NewSource(mq, fused, rot)
		src.FallbackAfter = cfg.MQTT.FusedTimeout
		return src, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown sensor source %q", s.Source)
}

// recordTo appends every sample to w before handing it on. A write error
// stops recording but not processing.
func recordTo(w *replay.Writer, next func(orientation.Sample)) func(orientation.Sample) {
	var mu sync.Mutex
	var failed bool
	return func(s orientation.Sample) {
		mu.Lock()
		if !failed {
			if err := w.WriteSample(time.Now(), s); err != nil {
				log.Printf("record: write failed, recording stopped: %v", err)
				failed = true
			}
		}
		mu.Unlock()
		next(s)
	}
}
