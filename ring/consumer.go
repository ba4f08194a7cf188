package ring

import "time"

// Consumer is a gating reader of the ring. It's not safe for concurrent
// use, every reader goroutine needs its own consumer.
type Consumer[T any] struct {
	ring *Ring[T]
	seq  *Sequence
}

// WaitFor blocks until seq is published. Highest available sequence is
// returned. False means that timeout expired or ring was alerted, caller
// decides which one happened.
func (c *Consumer[T]) WaitFor(seq int64, timeout time.Duration) (int64, bool) {
	return c.ring.WaitFor(seq, timeout)
}

// Get returns entry at provided sequence.
func (c *Consumer[T]) Get(seq int64) T {
	return c.ring.Get(seq)
}

// Sequence returns the last released sequence.
func (c *Consumer[T]) Sequence() int64 {
	return c.seq.Load()
}

// Available returns number of published entries that are not released
// yet.
func (c *Consumer[T]) Available() int64 {
	return c.ring.Cursor() - c.seq.Load()
}

// Release marks all entries up to seq as consumed and lets producer reuse
// them.
func (c *Consumer[T]) Release(seq int64) {
	c.seq.Store(seq)
	c.ring.wait.Signal()
}

// Close removes consumer from the ring gating sequences. Producer is never
// blocked by closed consumer.
func (c *Consumer[T]) Close() {
	c.ring.removeGating(c.seq)
}
