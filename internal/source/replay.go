package source

import (
	"errors"
	"fmt"
	"log"
	"time"

	"bubble-level/internal/orientation"
	"bubble-level/internal/replay"
)

// Replay plays a recorded sample log as a source.
type Replay struct {
	records  []replay.Record
	speed    float64
	loop     bool
	rotation *Rotation

	// Sleeper is used by tests; nil sleeps in real time.
	Sleeper replay.Sleeper
}

func OpenReplay(path string, speed float64, loop bool, rot *Rotation) (*Replay, error) {
	recs, err := replay.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read %s: %w", path, err)
	}
	return NewReplay(recs, speed, loop, rot), nil
}

func NewReplay(records []replay.Record, speed float64, loop bool, rot *Rotation) *Replay {
	if speed <= 0 {
		speed = 1
	}
	return &Replay{records: records, speed: speed, loop: loop, rotation: rot}
}

func (r *Replay) DisplayRotation() orientation.DisplayRotation {
	return r.rotation.Get()
}

func (r *Replay) Subscribe(fn func(orientation.Sample)) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("replay: callback is nil")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = stopSleeper{stop: stop}
	}
	go func() {
		defer close(done)
		err := replay.Play(r.records, r.speed, r.loop, sleeper, func(s orientation.Sample) error {
			select {
			case <-stop:
				return replay.ErrStop
			default:
			}
			fn(s)
			return nil
		})
		if err != nil {
			log.Printf("replay: playback stopped: %v", err)
			return
		}
		log.Printf("replay: playback finished")
	}()
	return NewSubscription(func() {
		close(stop)
		<-done
	}), nil
}

// stopSleeper sleeps in real time but wakes early once stop is closed.
type stopSleeper struct {
	stop <-chan struct{}
}

func (s stopSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
	case <-t.C:
	}
}
