package web

import (
	"sync"
	"testing"

	"bubble-level/internal/level"
)

func TestStateBroadcaster_ReplaysLastAndNeverBlocks(t *testing.T) {
	b := NewStateBroadcaster()
	if _, ok := b.Last(); ok {
		t.Fatalf("expected no state yet")
	}

	b.Publish(level.State{Samples: 1})
	id, ch := b.Subscribe(1)
	if st := <-ch; st.Samples != 1 {
		t.Fatalf("replayed samples=%d want 1", st.Samples)
	}

	// Buffer of one: the second publish is dropped for this subscriber.
	b.Publish(level.State{Samples: 2})
	b.Publish(level.State{Samples: 3})
	if st := <-ch; st.Samples != 2 {
		t.Fatalf("samples=%d want 2", st.Samples)
	}
	if st, _ := b.Last(); st.Samples != 3 {
		t.Fatalf("last samples=%d want 3", st.Samples)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	b.Unsubscribe(id)
	b.Publish(level.State{Samples: 4})
}

func TestStateBroadcaster_SubscribeKeepsOrder(t *testing.T) {
	b := NewStateBroadcaster()
	b.Publish(level.State{Samples: 1})

	const publishes = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 2; i <= publishes; i++ {
			b.Publish(level.State{Samples: uint64(i)})
		}
	}()

	ids := make([]int, 0, 50)
	chans := make([]<-chan level.State, 0, 50)
	for i := 0; i < 50; i++ {
		id, ch := b.Subscribe(publishes + 1)
		ids = append(ids, id)
		chans = append(chans, ch)
	}
	wg.Wait()

	for i, id := range ids {
		b.Unsubscribe(id)
		var prev uint64
		n := 0
		for st := range chans[i] {
			if st.Samples <= prev {
				t.Fatalf("subscriber %d: samples=%d after %d", i, st.Samples, prev)
			}
			prev = st.Samples
			n++
		}
		if n == 0 || prev != publishes {
			t.Fatalf("subscriber %d: received=%d last=%d want last=%d", i, n, prev, publishes)
		}
	}
}

func TestStateBroadcaster_Nil(t *testing.T) {
	var b *StateBroadcaster
	b.Publish(level.State{})
	b.Unsubscribe(0)
	if _, ch := b.Subscribe(1); ch != nil {
		t.Fatalf("nil broadcaster returned a channel")
	}
}

func TestLogBuffer_SplitsWritesIntoLines(t *testing.T) {
	b := NewLogBuffer(3)
	_, _ = b.Write([]byte("one\ntw"))
	_, _ = b.Write([]byte("o\r\n\nthree\nfour\nfi"))

	lines, dropped := b.Snapshot(10)
	want := []string{"two", "three", "four"}
	if len(lines) != len(want) {
		t.Fatalf("lines=%q want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines=%q want %q", lines, want)
		}
	}
	if dropped != 1 {
		t.Fatalf("dropped=%d want 1", dropped)
	}

	_, _ = b.Write([]byte("ve\n"))
	lines, _ = b.Snapshot(1)
	if len(lines) != 1 || lines[0] != "five" {
		t.Fatalf("tail=%q want [five]", lines)
	}
}
