// Package indicator pulses a GPIO line (buzzer or LED) when the level is
// reached and sound feedback is enabled.
package indicator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"bubble-level/internal/level"
)

type output interface {
	Set(on bool) error
	Close() error
}

type Config struct {
	GPIOPin int
	Pulse   time.Duration
}

type Indicator struct {
	cfg Config

	mu  sync.Mutex
	out output

	pulses uint64
}

func Open(cfg Config) (*Indicator, error) {
	if cfg.Pulse <= 0 {
		cfg.Pulse = 100 * time.Millisecond
	}
	out, err := openOutputFn(cfg.GPIOPin)
	if err != nil {
		return nil, err
	}
	log.Printf("indicator: using GPIO%d, pulse %s", cfg.GPIOPin, cfg.Pulse)
	return &Indicator{cfg: cfg, out: out}, nil
}

// pendingPulses bounds the edges queued behind an active pulse.
const pendingPulses = 8

// Run pulses once for every state that marks the level-reached edge while
// sound is on. Pulses run on their own goroutine so states keep draining
// during a pulse. It returns when ctx is done or states is closed.
func (i *Indicator) Run(ctx context.Context, states <-chan level.State) {
	edges := make(chan struct{}, pendingPulses)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range edges {
			if err := i.pulse(ctx); err != nil {
				log.Printf("indicator: pulse failed: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	defer func() {
		close(edges)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if !st.Sound || !st.JustLeveled() {
				continue
			}
			select {
			case edges <- struct{}{}:
			default:
				log.Printf("indicator: %d pulses pending, dropping edge", pendingPulses)
			}
		}
	}
}

func (i *Indicator) pulse(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil {
		return errors.New("indicator: closed")
	}
	if err := i.out.Set(true); err != nil {
		return err
	}
	t := time.NewTimer(i.cfg.Pulse)
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	t.Stop()
	i.pulses++
	return i.out.Set(false)
}

func (i *Indicator) Pulses() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pulses
}

func (i *Indicator) Close() error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil {
		return nil
	}
	err := i.out.Close()
	i.out = nil
	return err
}
