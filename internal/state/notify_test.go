package state_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dantte-lp/gobancho/internal/state"
)

func TestNotifyReceiveInOrderExactlyOnce(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.Push([]byte("m1"), nil)
	nq.Push([]byte("m2"), nil)
	nq.Push([]byte("m3"), nil)

	var cursor ulid.ULID
	got, last, ok := nq.Receive(1, cursor, 0)
	if !ok {
		t.Fatal("first receive delivered nothing")
	}
	if !bytes.Equal(got, []byte("m1m2m3")) {
		t.Fatalf("first receive = %q, want m1m2m3", got)
	}
	cursor = last

	// Re-reading from the new cursor yields nothing.
	if _, _, ok := nq.Receive(1, cursor, 0); ok {
		t.Fatal("second receive delivered duplicates")
	}

	// A later push resumes from the cursor.
	nq.Push([]byte("m4"), nil)
	got, _, ok = nq.Receive(1, cursor, 0)
	if !ok || !bytes.Equal(got, []byte("m4")) {
		t.Fatalf("third receive = (%q, %v), want m4", got, ok)
	}
}

func TestNotifyTwoReadersSameOrder(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.Push([]byte("a"), nil)
	nq.Push([]byte("b"), nil)
	nq.Push([]byte("c"), nil)

	var curA, curB ulid.ULID
	var gotA, gotB []byte
	for {
		chunk, last, ok := nq.Receive(100, curA, 1)
		if !ok {
			break
		}
		gotA = append(gotA, chunk...)
		curA = last
	}
	for {
		chunk, last, ok := nq.Receive(200, curB, 2)
		if !ok {
			break
		}
		gotB = append(gotB, chunk...)
		curB = last
	}

	if !bytes.Equal(gotA, []byte("abc")) || !bytes.Equal(gotB, []byte("abc")) {
		t.Fatalf("readers diverged: a=%q b=%q", gotA, gotB)
	}
}

func TestNotifyPushExcludingSkipsOriginator(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.PushExcluding([]byte("ev"), []int32{42}, nil)

	if _, _, ok := nq.Receive(42, ulid.ULID{}, 0); ok {
		t.Fatal("excluded reader received its own event")
	}
	got, _, ok := nq.Receive(7, ulid.ULID{}, 0)
	if !ok || !bytes.Equal(got, []byte("ev")) {
		t.Fatalf("other reader receive = (%q, %v)", got, ok)
	}
}

func TestNotifyValidatorEvicts(t *testing.T) {
	nq := state.NewNotifyQueue()
	alive := true
	nq.Push([]byte("x"), func() bool { return alive })
	nq.Push([]byte("y"), nil)

	alive = false
	got, _, ok := nq.Receive(1, ulid.ULID{}, 0)
	if !ok || !bytes.Equal(got, []byte("y")) {
		t.Fatalf("receive = (%q, %v), want y only", got, ok)
	}
	if nq.Len() != 1 {
		t.Fatalf("Len() = %d after validator eviction, want 1", nq.Len())
	}

	// Nobody else sees the evicted message either.
	got, _, ok = nq.Receive(2, ulid.ULID{}, 0)
	if !ok || !bytes.Equal(got, []byte("y")) {
		t.Fatalf("second reader = (%q, %v), want y only", got, ok)
	}
}

func TestNotifyMaxCountBounds(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.Push([]byte("1"), nil)
	nq.Push([]byte("2"), nil)
	nq.Push([]byte("3"), nil)

	got, last, ok := nq.Receive(1, ulid.ULID{}, 2)
	if !ok || !bytes.Equal(got, []byte("12")) {
		t.Fatalf("bounded receive = (%q, %v), want 12", got, ok)
	}
	got, _, ok = nq.Receive(1, last, 2)
	if !ok || !bytes.Equal(got, []byte("3")) {
		t.Fatalf("follow-up receive = (%q, %v), want 3", got, ok)
	}
}

func TestNotifyReapFullyAcknowledged(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.Push([]byte("a"), nil)
	nq.Push([]byte("b"), nil)

	_, last, ok := nq.Receive(1, ulid.ULID{}, 0)
	if !ok {
		t.Fatal("receive delivered nothing")
	}

	// Every live reader (just reader 1) has consumed both messages.
	removed := nq.Reap(last, true, 0, time.Now())
	if removed != 2 {
		t.Fatalf("Reap removed %d, want 2", removed)
	}
	if nq.Len() != 0 {
		t.Fatalf("Len() = %d after reap, want 0", nq.Len())
	}
}

func TestNotifyReapKeepsUnacknowledged(t *testing.T) {
	nq := state.NewNotifyQueue()
	nq.Push([]byte("a"), nil)

	// No reader has seen the message; the zero min-cursor keeps it.
	if removed := nq.Reap(ulid.ULID{}, true, 0, time.Now()); removed != 0 {
		t.Fatalf("Reap removed %d, want 0", removed)
	}
	if nq.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", nq.Len())
	}
}
