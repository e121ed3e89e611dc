package state_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/dantte-lp/gobancho/internal/state"
)

func TestPacketQueuePushDrain(t *testing.T) {
	q := state.NewPacketQueue()
	q.Push([]byte{1, 2})
	q.PushBatch([][]byte{{3}, {4, 5}})

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	got := q.DequeueAll()
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("DequeueAll = %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after drain, want 0", q.Len())
	}
	if q.DequeueAll() != nil {
		t.Fatal("second drain returned bytes")
	}
}

func TestPacketQueueSnapshotNonDestructive(t *testing.T) {
	q := state.NewPacketQueue()
	q.Push([]byte{9, 9})

	snap := q.Snapshot()
	if len(snap) != 1 || !bytes.Equal(snap[0], []byte{9, 9}) {
		t.Fatalf("Snapshot = %v", snap)
	}
	// Mutating the snapshot must not affect the queue.
	snap[0][0] = 0
	if got := q.DequeueAll(); !bytes.Equal(got, []byte{9, 9}) {
		t.Fatalf("DequeueAll = %v after snapshot mutation", got)
	}
}

// TestPacketQueueProducerOrder verifies each producer's own order
// survives concurrent pushes.
func TestPacketQueueProducerOrder(t *testing.T) {
	q := state.NewPacketQueue()

	const perProducer = 100
	var wg sync.WaitGroup
	for p := byte(1); p <= 4; p++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([]byte{tag, byte(i)})
			}
		}(p)
	}
	wg.Wait()

	flat := q.DequeueAll()
	if len(flat) != 4*perProducer*2 {
		t.Fatalf("drained %d bytes, want %d", len(flat), 4*perProducer*2)
	}

	next := map[byte]byte{}
	for i := 0; i < len(flat); i += 2 {
		tag, seq := flat[i], flat[i+1]
		if seq != next[tag] {
			t.Fatalf("producer %d out of order: got %d, want %d", tag, seq, next[tag])
		}
		next[tag]++
	}
}
