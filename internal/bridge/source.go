package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bubble-level/internal/orientation"
	"bubble-level/internal/source"
)

type subscriber interface {
	Topic(suffix string) string
	Subscribe(topic string, h mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Source receives sensor vectors over MQTT. In fused mode it prefers
// rotation vectors and falls back to pairing accel and mag updates for the
// rest of the subscription when no rotation vector arrives within
// FallbackAfter. Otherwise accel and mag updates are paired up from the start.
// The display rotation topic updates the shared rotation in either mode.
type Source struct {
	client   subscriber
	fused    bool
	rotation *source.Rotation

	// FallbackAfter of zero or less waits for rotation vectors forever.
	FallbackAfter time.Duration
}

func NewSource(c subscriber, fused bool, rot *source.Rotation) *Source {
	return &Source{client: c, fused: fused, rotation: rot, FallbackAfter: 5 * time.Second}
}

func (s *Source) DisplayRotation() orientation.DisplayRotation {
	return s.rotation.Get()
}

func (s *Source) Subscribe(fn func(orientation.Sample)) (*source.Subscription, error) {
	if fn == nil {
		return nil, errors.New("mqtt source: callback is nil")
	}
	d := &delivery{fn: fn, mode: modeRawPair}
	var pair orientation.PairTracker
	handlers := map[string]mqtt.MessageHandler{
		s.client.Topic(TopicDisplayRotation): s.onDisplayRotation,
		s.client.Topic(TopicAccel):           d.onVector("accel", pair.UpdateAccel),
		s.client.Topic(TopicMag):             d.onVector("mag", pair.UpdateMag),
	}
	if s.fused {
		d.mode = modeWaiting
		handlers[s.client.Topic(TopicRotation)] = d.onRotation
	}

	topics := make([]string, 0, len(handlers))
	for topic, h := range handlers {
		if err := s.client.Subscribe(topic, h); err != nil {
			if len(topics) > 0 {
				_ = s.client.Unsubscribe(topics...)
			}
			return nil, err
		}
		topics = append(topics, topic)
	}
	log.Printf("mqtt source: subscribed to %s", strings.Join(topics, ", "))

	var fallback *time.Timer
	if s.fused && s.FallbackAfter > 0 {
		fallback = time.AfterFunc(s.FallbackAfter, d.fallback)
	}

	return source.NewSubscription(func() {
		if fallback != nil {
			fallback.Stop()
		}
		d.stop()
		if err := s.client.Unsubscribe(topics...); err != nil {
			log.Printf("mqtt source: %v", err)
		}
	}), nil
}

func (s *Source) onDisplayRotation(_ mqtt.Client, msg mqtt.Message) {
	deg, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
	if err != nil {
		log.Printf("mqtt source: invalid display rotation %q", msg.Payload())
		return
	}
	rot, err := orientation.ParseDegrees(deg)
	if err != nil {
		log.Printf("mqtt source: %v", err)
		return
	}
	s.rotation.Set(rot)
}

type deliveryMode int

const (
	// modeWaiting takes the first rotation vector and ignores raw pairs.
	modeWaiting deliveryMode = iota
	modeFused
	modeRawPair
)

// delivery forwards samples of the current mode until stopped. Once stop
// returns, fn is not called again.
type delivery struct {
	mu      sync.Mutex
	stopped bool
	mode    deliveryMode
	fn      func(orientation.Sample)
}

func (d *delivery) deliver(smp orientation.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	switch smp.Kind {
	case orientation.KindFused:
		if d.mode == modeRawPair {
			return
		}
		if d.mode == modeWaiting {
			log.Printf("mqtt source: using rotation vectors")
		}
		d.mode = modeFused
	case orientation.KindRawPair:
		if d.mode != modeRawPair {
			return
		}
	}
	d.fn(smp)
}

func (d *delivery) fallback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.mode != modeWaiting {
		return
	}
	d.mode = modeRawPair
	log.Printf("mqtt source: no rotation vector received, using accel and mag")
}

func (d *delivery) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *delivery) onRotation(_ mqtt.Client, msg mqtt.Message) {
	v, err := parseVector(msg.Payload())
	if err != nil {
		log.Printf("mqtt source: rotation: %v", err)
		return
	}
	if len(v) < 3 {
		log.Printf("mqtt source: rotation vector has %d components", len(v))
		return
	}
	d.deliver(orientation.Fused(v...))
}

func (d *delivery) onVector(name string, update func(orientation.Vec3) (orientation.Sample, bool)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		v, err := parseVector(msg.Payload())
		if err != nil {
			log.Printf("mqtt source: %s: %v", name, err)
			return
		}
		if len(v) != 3 {
			log.Printf("mqtt source: %s vector has %d components", name, len(v))
			return
		}
		if smp, ok := update(orientation.Vec3{v[0], v[1], v[2]}); ok {
			d.deliver(smp)
		}
	}
}

type vectorObject struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
	W *float64 `json:"w"`
}

// parseVector accepts a JSON array ([x,y,z] or [x,y,z,w]) or an object
// with x, y, z and optional w.
func parseVector(payload []byte) ([]float64, error) {
	var arr []float64
	if err := json.Unmarshal(payload, &arr); err == nil {
		if len(arr) > 4 {
			return nil, fmt.Errorf("vector has %d components", len(arr))
		}
		return arr, nil
	}
	var obj vectorObject
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("invalid vector payload %q", payload)
	}
	if obj.X == nil || obj.Y == nil || obj.Z == nil {
		return nil, fmt.Errorf("vector payload %q missing x, y or z", payload)
	}
	out := []float64{*obj.X, *obj.Y, *obj.Z}
	if obj.W != nil {
		out = append(out, *obj.W)
	}
	return out, nil
}
