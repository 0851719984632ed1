package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bubble-level/internal/level"
	"bubble-level/internal/orientation"
	"bubble-level/internal/source"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	failTopic    string
	unsubscribed []string
	published    []fakeMessage
	retained     []bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Topic(suffix string) string { return joinTopic("bench/level", suffix) }

func (b *fakeBroker) Subscribe(topic string, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failTopic {
		return errors.New("refused")
	}
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
		b.unsubscribed = append(b.unsubscribed, t)
	}
	return nil
}

func (b *fakeBroker) Publish(topic string, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, fakeMessage{topic: topic, payload: payload})
	b.retained = append(b.retained, retained)
	return nil
}

func (b *fakeBroker) send(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", topic)
	}
	h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestJoinTopic(t *testing.T) {
	if got := joinTopic("/level/", TopicState); got != "level/state" {
		t.Fatalf("got=%q", got)
	}
	if got := joinTopic("", TopicState); got != "state" {
		t.Fatalf("got=%q", got)
	}
}

func TestParseVector(t *testing.T) {
	cases := []struct {
		in   string
		want []float64
	}{
		{`[0.1, 0.2, 0.3]`, []float64{0.1, 0.2, 0.3}},
		{`[0, 0, 0, 1]`, []float64{0, 0, 0, 1}},
		{`{"x": 1, "y": -2, "z": 9.8}`, []float64{1, -2, 9.8}},
		{`{"x": 0, "y": 0, "z": 0, "w": 1}`, []float64{0, 0, 0, 1}},
	}
	for _, tc := range cases {
		got, err := parseVector([]byte(tc.in))
		if err != nil {
			t.Fatalf("parseVector(%s) error: %v", tc.in, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("parseVector(%s)=%v want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseVector(%s)=%v want %v", tc.in, got, tc.want)
			}
		}
	}
	for _, bad := range []string{`nope`, `{"x": 1, "y": 2}`, `[1,2,3,4,5]`} {
		if _, err := parseVector([]byte(bad)); err == nil {
			t.Fatalf("parseVector(%s) expected error", bad)
		}
	}
}

func TestSource_FusedDelivery(t *testing.T) {
	b := newFakeBroker()
	rot := source.NewRotation(orientation.Rotation0)
	s := NewSource(b, true, rot)

	var got []orientation.Sample
	sub, err := s.Subscribe(func(smp orientation.Sample) { got = append(got, smp) })
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	// Raw pairs are held back while waiting for the first rotation vector.
	b.send(t, "bench/level/sensor/accel", `[0, 0, 9.81]`)
	b.send(t, "bench/level/sensor/mag", `[0, 22, -40]`)
	if len(got) != 0 {
		t.Fatalf("raw pair delivered in fused mode: %+v", got)
	}

	b.send(t, "bench/level/sensor/rotation", `[0.70710678, 0, 0]`)
	b.send(t, "bench/level/sensor/rotation", `[1, 2]`)
	b.send(t, "bench/level/sensor/rotation", `garbage`)
	b.send(t, "bench/level/sensor/accel", `[0, 1, 9.81]`)
	if len(got) != 1 || got[0].Kind != orientation.KindFused || len(got[0].Vector) != 3 {
		t.Fatalf("samples=%+v", got)
	}

	b.send(t, "bench/level/display/rotation", " 270\n")
	if s.DisplayRotation() != orientation.Rotation270 {
		t.Fatalf("rotation=%v want 270", s.DisplayRotation())
	}
	b.send(t, "bench/level/display/rotation", "45")
	if s.DisplayRotation() != orientation.Rotation270 {
		t.Fatalf("invalid rotation should be ignored")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if len(b.unsubscribed) != 4 {
		t.Fatalf("unsubscribed=%v want 4 topics once", b.unsubscribed)
	}
}

func TestSource_FusedFallsBackToRawPair(t *testing.T) {
	b := newFakeBroker()
	s := NewSource(b, true, source.NewRotation(orientation.Rotation0))
	s.FallbackAfter = 10 * time.Millisecond

	var got []orientation.Sample
	sub, err := s.Subscribe(func(smp orientation.Sample) { got = append(got, smp) })
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Unsubscribe()

	b.send(t, "bench/level/sensor/mag", `[0, 22, -40]`)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no raw pair delivered after the fallback delay")
		}
		time.Sleep(5 * time.Millisecond)
		b.send(t, "bench/level/sensor/accel", `[0, 0, 9.81]`)
	}
	if got[0].Kind != orientation.KindRawPair {
		t.Fatalf("sample=%+v want raw pair", got[0])
	}

	// The fallback lasts for the whole subscription.
	n := len(got)
	b.send(t, "bench/level/sensor/rotation", `[0, 0, 0, 1]`)
	if len(got) != n {
		t.Fatalf("rotation vector delivered after fallback")
	}
}

func TestSource_FusedStaysFusedOnceRotationSeen(t *testing.T) {
	b := newFakeBroker()
	s := NewSource(b, true, source.NewRotation(orientation.Rotation0))
	s.FallbackAfter = 10 * time.Millisecond

	var got []orientation.Sample
	sub, err := s.Subscribe(func(smp orientation.Sample) { got = append(got, smp) })
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Unsubscribe()

	b.send(t, "bench/level/sensor/rotation", `[0, 0, 0, 1]`)
	time.Sleep(50 * time.Millisecond)
	b.send(t, "bench/level/sensor/accel", `[0, 0, 9.81]`)
	b.send(t, "bench/level/sensor/mag", `[0, 22, -40]`)
	b.send(t, "bench/level/sensor/rotation", `[0, 0, 0, 1]`)
	if len(got) != 2 || got[0].Kind != orientation.KindFused || got[1].Kind != orientation.KindFused {
		t.Fatalf("samples=%+v want two rotation vectors", got)
	}
}

func TestSource_RawPairDelivery(t *testing.T) {
	b := newFakeBroker()
	s := NewSource(b, false, source.NewRotation(orientation.Rotation0))

	var got []orientation.Sample
	sub, err := s.Subscribe(func(smp orientation.Sample) { got = append(got, smp) })
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	b.send(t, "bench/level/sensor/accel", `[0, 0, 9.81]`)
	if len(got) != 0 {
		t.Fatalf("expected no sample before mag")
	}
	b.send(t, "bench/level/sensor/mag", `{"x": 0, "y": 22, "z": -40}`)
	b.send(t, "bench/level/sensor/accel", `[0, 1, 9.81]`)
	if len(got) != 2 {
		t.Fatalf("samples=%d want 2", len(got))
	}
	if got[1].Accel != (orientation.Vec3{0, 1, 9.81}) || got[1].Mag != (orientation.Vec3{0, 22, -40}) {
		t.Fatalf("latest pair=%+v", got[1])
	}
	b.send(t, "bench/level/sensor/mag", `[1, 2, 3, 4]`)
	if len(got) != 2 {
		t.Fatalf("4-component mag should be rejected")
	}

	// Handlers captured before Unsubscribe must not deliver afterwards.
	h := b.handlers["bench/level/sensor/accel"]
	sub.Unsubscribe()
	h(nil, fakeMessage{topic: "bench/level/sensor/accel", payload: []byte(`[0,0,9.8]`)})
	if len(got) != 2 {
		t.Fatalf("sample delivered after Unsubscribe")
	}
}

func TestSource_SubscribeFailureRollsBack(t *testing.T) {
	b := newFakeBroker()
	b.failTopic = "bench/level/sensor/rotation"
	s := NewSource(b, true, nil)
	if _, err := s.Subscribe(func(orientation.Sample) {}); err == nil {
		t.Fatalf("expected error")
	}
	if len(b.handlers) != 0 {
		t.Fatalf("handlers left behind: %v", b.handlers)
	}
	if _, err := s.Subscribe(nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestPublisher_RateLimitsSamplesButNotChanges(t *testing.T) {
	b := newFakeBroker()
	p := NewPublisher(b)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	states := make(chan level.State)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), states)
	}()

	states <- level.State{Samples: 1}
	states <- level.State{Samples: 2} // dropped: within MinInterval
	states <- level.State{Samples: 3, Reading: level.Reading{IsLeveled: true}}
	states <- level.State{Samples: 4, Reading: level.Reading{IsLeveled: true}, Sound: true}
	close(states)
	<-done

	if len(b.published) != 3 {
		t.Fatalf("published=%d want 3", len(b.published))
	}
	for i, m := range b.published {
		if m.topic != "bench/level/state" || !b.retained[i] {
			t.Fatalf("message %d topic=%q retained=%v", i, m.topic, b.retained[i])
		}
	}
	var st level.State
	if err := json.Unmarshal(b.published[2].payload, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Samples != 4 || !st.Sound || !st.IsLeveled {
		t.Fatalf("last state=%+v", st)
	}
}

func (b *fakeBroker) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func lastPublishedState(t *testing.T, b *fakeBroker) level.State {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var st level.State
	if err := json.Unmarshal(b.published[len(b.published)-1].payload, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return st
}

func TestPublisher_FlushesSkippedStateWhenSamplesStop(t *testing.T) {
	b := newFakeBroker()
	p := NewPublisher(b)
	p.MinInterval = 100 * time.Millisecond

	states := make(chan level.State)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), states)
	}()

	states <- level.State{Samples: 1}
	states <- level.State{Samples: 2}
	states <- level.State{Samples: 3}

	deadline := time.Now().Add(2 * time.Second)
	for b.publishedCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("published=%d want 2 after the interval", b.publishedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := lastPublishedState(t, b); st.Samples != 3 {
		t.Fatalf("flushed samples=%d want 3", st.Samples)
	}

	close(states)
	<-done
	if got := b.publishedCount(); got != 2 {
		t.Fatalf("published=%d want 2", got)
	}
}

func TestPublisher_FlushesSkippedStateOnClose(t *testing.T) {
	b := newFakeBroker()
	p := NewPublisher(b)
	p.MinInterval = time.Hour

	states := make(chan level.State, 2)
	states <- level.State{Samples: 1}
	states <- level.State{Samples: 2}
	close(states)
	p.Run(context.Background(), states)

	if got := b.publishedCount(); got != 2 {
		t.Fatalf("published=%d want 2", got)
	}
	if st := lastPublishedState(t, b); st.Samples != 2 {
		t.Fatalf("last samples=%d want 2", st.Samples)
	}
}

func TestPublisher_StopsOnContextCancel(t *testing.T) {
	p := NewPublisher(newFakeBroker())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, make(chan level.State))
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
