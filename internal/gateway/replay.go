package gateway

import "trading-riskv1/internal/engine"

// ReplayBuffer is a fixed-size ring of recent updates, oldest first.
// It is not safe for concurrent use; the hub guards it.
type ReplayBuffer struct {
	buf  []engine.Update
	pos  int
	full bool
}

// NewReplayBuffer returns a buffer holding up to capacity updates
// (default 256).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &ReplayBuffer{buf: make([]engine.Update, capacity)}
}

// Push appends u, overwriting the oldest entry when full.
func (rb *ReplayBuffer) Push(u engine.Update) {
	rb.buf[rb.pos] = u
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Len returns the number of buffered updates.
func (rb *ReplayBuffer) Len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// Since returns the buffered updates with Seq > seq in order. ok is false
// when updates after seq have already been evicted, in which case the
// caller must fall back to a full snapshot.
func (rb *ReplayBuffer) Since(seq uint64) (updates []engine.Update, ok bool) {
	n := rb.Len()
	if n == 0 {
		return nil, false
	}
	start := 0
	if rb.full {
		start = rb.pos
	}
	oldest := rb.buf[start]
	if oldest.Seq > seq+1 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		u := rb.buf[(start+i)%len(rb.buf)]
		if u.Seq > seq {
			updates = append(updates, u)
		}
	}
	return updates, true
}
