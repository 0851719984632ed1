package web

import (
	"sync"

	"bubble-level/internal/level"
)

// StateBroadcaster fans level states out to any listeners (websocket
// clients, MQTT publisher, indicator). Slow listeners miss updates instead
// of blocking the publisher. The most recent state is replayed to new
// subscribers.
type StateBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan level.State
	nextID   int
	last     level.State
	haveLast bool
}

func NewStateBroadcaster() *StateBroadcaster {
	return &StateBroadcaster{
		subs: make(map[int]chan level.State),
	}
}

func (b *StateBroadcaster) Subscribe(buffer int) (int, <-chan level.State) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan level.State, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	// Replay under the lock so a concurrent Publish cannot overtake it.
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *StateBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish implements level.Sink. It never blocks.
func (b *StateBroadcaster) Publish(st level.State) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = st
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (b *StateBroadcaster) Last() (level.State, bool) {
	if b == nil {
		return level.State{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}
