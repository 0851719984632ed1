package source

import (
	"sync"
	"sync/atomic"
	"time"

	"bubble-level/internal/orientation"
)

// Source delivers orientation samples and reports the current display
// rotation. Callbacks may run on any goroutine.
type Source interface {
	DisplayRotation() orientation.DisplayRotation
	Subscribe(fn func(orientation.Sample)) (*Subscription, error)
}

// Subscription stops a delivery started by Subscribe. Unsubscribe is
// idempotent and must not be called from inside the callback.
type Subscription struct {
	once sync.Once
	stop func()
}

func NewSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop}
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Rotation holds the display rotation shared between a source and whoever
// can change it at runtime (config, HTTP, MQTT).
type Rotation struct {
	v atomic.Int32
}

func NewRotation(r orientation.DisplayRotation) *Rotation {
	rot := &Rotation{}
	rot.Set(r)
	return rot
}

func (r *Rotation) Get() orientation.DisplayRotation {
	if r == nil {
		return orientation.Rotation0
	}
	return orientation.DisplayRotation(r.v.Load())
}

func (r *Rotation) Set(v orientation.DisplayRotation) {
	if r == nil {
		return
	}
	r.v.Store(int32(v))
}

// poll calls next on every tick and forwards the samples it yields.
// The returned subscription waits for the loop to exit.
func poll(interval time.Duration, next func(time.Time) (orientation.Sample, bool), fn func(orientation.Sample)) *Subscription {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-tick.C:
				if s, ok := next(now); ok {
					fn(s)
				}
			}
		}
	}()
	return NewSubscription(func() {
		close(stop)
		<-done
	})
}
