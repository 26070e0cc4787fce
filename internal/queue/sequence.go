package queue

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

// sequencer hands out strictly increasing int64 sequence numbers used to
// break priority ties FIFO. It folds a monotonic ULID into an int64: the
// top bits are the millisecond timestamp (non-decreasing across calls) and
// the low 16 bits are bytes 8-9 of the ULID's entropy. ulid.Monotonic
// seldom changes those bytes between calls in the same millisecond, so a
// value at or below the previous one is replaced by the previous one plus
// one.
type sequencer struct {
	mu      sync.Mutex
	entropy io.Reader
	last    int64
}

func newSequencer() *sequencer {
	return &sequencer{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *sequencer) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.MustNew(ulid.Now(), s.entropy)
	tie := int64(id[8])<<8 | int64(id[9])
	v := int64(id.Time())<<16 | tie
	if v <= s.last {
		v = s.last + 1
	}
	s.last = v
	return v
}
