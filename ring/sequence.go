package ring

import "sync/atomic"

// Initial is the value of every sequence before anything is published.
const Initial int64 = -1

// Sequence is a monotonically increasing cursor shared between a producer
// and its consumers. It's padded to keep producer and consumer cursors on
// separate cache lines.
type Sequence struct {
	_     [56]byte
	value atomic.Int64
	_     [56]byte
}

// NewSequence returns sequence set to v.
func NewSequence(v int64) *Sequence {
	s := &Sequence{}
	s.value.Store(v)
	return s
}

// Load returns current value of the sequence.
func (s *Sequence) Load() int64 {
	return s.value.Load()
}

// Store sets new value of the sequence.
func (s *Sequence) Store(v int64) {
	s.value.Store(v)
}

// minimum returns the lowest value among sequences or def if there are
// none.
func minimum(seqs []*Sequence, def int64) int64 {
	if len(seqs) == 0 {
		return def
	}
	m := seqs[0].Load()
	for _, s := range seqs[1:] {
		if v := s.Load(); v < m {
			m = v
		}
	}
	return m
}
