package bridge

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"bubble-level/internal/level"
)

type statePublisher interface {
	Topic(suffix string) string
	Publish(topic string, retained bool, payload []byte) error
}

// Publisher mirrors level state to <prefix>/state as retained JSON.
// Sample-driven updates are limited to one per MinInterval, and the latest
// skipped state goes out when the interval ends. A change in the leveled
// flag or in settings is published immediately.
type Publisher struct {
	client      statePublisher
	MinInterval time.Duration

	now func() time.Time
}

func NewPublisher(c statePublisher) *Publisher {
	return &Publisher{client: c, MinInterval: 200 * time.Millisecond, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, states <-chan level.State) {
	topic := p.client.Topic(TopicState)
	var last, pending level.State
	var lastAt time.Time
	var have, havePending bool

	// flush fires once MinInterval has passed since the last publish so a
	// skipped state is not left behind when samples stop.
	var flush <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	publish := func(st level.State) {
		b, err := json.Marshal(st)
		if err != nil {
			log.Printf("mqtt publisher: marshal state: %v", err)
			return
		}
		if err := p.client.Publish(topic, true, b); err != nil {
			log.Printf("mqtt publisher: %v", err)
			return
		}
		last, lastAt, have = st, p.now(), true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush:
			flush = nil
			if havePending {
				havePending = false
				publish(pending)
			}
		case st, ok := <-states:
			if !ok {
				if havePending {
					publish(pending)
				}
				return
			}
			now := p.now()
			if have && !significant(last, st) && now.Sub(lastAt) < p.MinInterval {
				pending, havePending = st, true
				if flush == nil {
					timer = time.NewTimer(p.MinInterval - now.Sub(lastAt))
					flush = timer.C
				}
				continue
			}
			havePending = false
			publish(st)
		}
	}
}

func significant(prev, next level.State) bool {
	if prev.IsLeveled != next.IsLeveled {
		return true
	}
	return prev.AxisConfig != next.AxisConfig ||
		prev.ToleranceDeg != next.ToleranceDeg ||
		prev.OffsetPitch != next.OffsetPitch ||
		prev.OffsetRoll != next.OffsetRoll ||
		prev.DarkTheme != next.DarkTheme ||
		prev.Sound != next.Sound
}
