package state

import "sync"

// PacketQueue is a session's FIFO of outbound packets. Each element is
// one already-encoded packet (or packet batch). Push and drain are
// serialized by a mutex held only for the duration of the operation, so
// concurrent producers are safe and each producer's own order is
// preserved.
type PacketQueue struct {
	mu      sync.Mutex
	packets [][]byte
	bytes   int
}

// NewPacketQueue returns an empty queue.
func NewPacketQueue() *PacketQueue {
	return &PacketQueue{}
}

// Push appends one packet.
func (q *PacketQueue) Push(packet []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = append(q.packets, packet)
	q.bytes += len(packet)
}

// PushBatch appends several packets preserving their order.
func (q *PacketQueue) PushBatch(packets [][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range packets {
		q.packets = append(q.packets, p)
		q.bytes += len(p)
	}
}

// DequeueAll concatenates and removes every queued packet in one call.
// Returns nil when the queue is empty.
func (q *PacketQueue) DequeueAll() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.packets) == 0 {
		return nil
	}
	out := make([]byte, 0, q.bytes)
	for _, p := range q.packets {
		out = append(out, p...)
	}
	q.packets = nil
	q.bytes = 0
	return out
}

// Snapshot returns a non-destructive copy of the queued packets.
func (q *PacketQueue) Snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.packets))
	for i, p := range q.packets {
		cp := make([]byte, len(p))
		copy(cp, p)
		out[i] = cp
	}
	return out
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}
