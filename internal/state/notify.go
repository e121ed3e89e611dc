package state

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// -------------------------------------------------------------------------
// Notify Queue — shared broadcast log
// -------------------------------------------------------------------------

// Validator decides at read time whether a message is still worth
// delivering. A false return evicts the message for everyone.
type Validator func() bool

// notifyMessage is one record in the broadcast log.
type notifyMessage struct {
	id        ulid.ULID
	content   []byte
	hasRead   map[int32]struct{}
	validator Validator
}

// NotifyQueue is the ordered broadcast log shared by all sessions.
// Message ids are generation-ordered ULIDs; the backing slice is
// append-only ordered, so "iterate from cursor" is a binary search plus
// a linear scan. One mutex guards the whole structure; critical
// sections are bounded by the per-receive message count.
type NotifyQueue struct {
	mu   sync.Mutex
	msgs []*notifyMessage
}

// NewNotifyQueue returns an empty queue.
func NewNotifyQueue() *NotifyQueue {
	return &NotifyQueue{}
}

// Push inserts content at a fresh id. The optional validator is
// evaluated at each read.
func (nq *NotifyQueue) Push(content []byte, validator Validator) ulid.ULID {
	return nq.PushExcluding(content, nil, validator)
}

// PushExcluding inserts content with has_read pre-populated by
// excludes, so the originator never receives back their own event.
func (nq *NotifyQueue) PushExcluding(content []byte, excludes []int32, validator Validator) ulid.ULID {
	msg := &notifyMessage{
		id:        NewID(),
		content:   content,
		hasRead:   make(map[int32]struct{}, len(excludes)),
		validator: validator,
	}
	for _, k := range excludes {
		msg.hasRead[k] = struct{}{}
	}

	nq.mu.Lock()
	nq.msgs = append(nq.msgs, msg)
	nq.mu.Unlock()
	return msg.id
}

// Receive collects the unread messages for readerKey starting after
// startID, up to maxCount (0 = unbounded). Each delivered message is
// marked read for the reader; messages whose validator rejects are
// evicted. Returns the concatenated content, the last delivered id,
// and whether anything was delivered. The reader persists the returned
// id as its next cursor.
func (nq *NotifyQueue) Receive(readerKey int32, startID ulid.ULID, maxCount int) ([]byte, ulid.ULID, bool) {
	nq.mu.Lock()
	defer nq.mu.Unlock()

	start := sort.Search(len(nq.msgs), func(i int) bool {
		return nq.msgs[i].id.Compare(startID) > 0
	})

	var (
		out       []byte
		lastID    ulid.ULID
		delivered int
		keep      = nq.msgs[:start]
		evicted   bool
	)

	for i := start; i < len(nq.msgs); i++ {
		msg := nq.msgs[i]

		if maxCount > 0 && delivered >= maxCount {
			keep = append(keep, msg)
			continue
		}

		if _, read := msg.hasRead[readerKey]; read {
			keep = append(keep, msg)
			continue
		}

		if msg.validator != nil && !msg.validator() {
			evicted = true
			continue
		}

		out = append(out, msg.content...)
		msg.hasRead[readerKey] = struct{}{}
		lastID = msg.id
		delivered++
		keep = append(keep, msg)
	}

	if evicted {
		nq.msgs = keep
	}

	return out, lastID, delivered > 0
}

// Len returns the number of retained messages.
func (nq *NotifyQueue) Len() int {
	nq.mu.Lock()
	defer nq.mu.Unlock()
	return len(nq.msgs)
}

// Reap deletes messages that no live reader will see: those at or below
// minCursor (every active reader's cursor has passed them) and those
// older than maxAge whose validator now rejects. Returns the number of
// messages removed. hasReaders=false with a zero minCursor keeps
// everything except validator rejects.
func (nq *NotifyQueue) Reap(minCursor ulid.ULID, hasReaders bool, maxAge time.Duration, now time.Time) int {
	nq.mu.Lock()
	defer nq.mu.Unlock()

	threshold := uint64(0)
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		if cutoff.After(time.Unix(0, 0)) {
			threshold = ulid.Timestamp(cutoff)
		}
	}

	keep := nq.msgs[:0]
	removed := 0
	for _, msg := range nq.msgs {
		if hasReaders && msg.id.Compare(minCursor) <= 0 {
			removed++
			continue
		}
		if threshold > 0 && msg.id.Time() < threshold {
			if msg.validator != nil && !msg.validator() {
				removed++
				continue
			}
		}
		keep = append(keep, msg)
	}
	nq.msgs = keep
	return removed
}
