// Package ring implements a fixed-capacity circular buffer shared between
// a single producer and any number of gating consumers.
//
// Entries are preallocated once and reused in place. Producer claims
// sequences, fills the entries and publishes them. Every consumer has its
// own sequence, producer never claims a sequence that would overwrite an
// entry not yet released by the slowest consumer.
package ring

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInsufficientCapacity is returned by TryClaim when ring is full.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// Ring is a single-producer/multi-consumer ring of preallocated entries.
type Ring[T any] struct {
	entries []T
	size    int64

	cursor Sequence // highest published sequence

	// producer-owned fields.
	next      int64 // highest claimed sequence
	gateCache int64 // cached lowest gating sequence

	mu     sync.Mutex                  // guards gating changes
	gating atomic.Pointer[[]*Sequence] // copy-on-write list

	wait    WaitStrategy
	alerted atomic.Bool
}

// New returns a ring of provided size. Every entry is allocated with
// newEntry. Blocking wait strategy is used if wait is nil.
func New[T any](size int, newEntry func() T, wait WaitStrategy) *Ring[T] {
	if size <= 0 {
		panic(fmt.Sprintf("ring: invalid size %d", size))
	}
	if wait == nil {
		wait = NewBlocking()
	}
	r := &Ring[T]{
		entries:   make([]T, size),
		size:      int64(size),
		next:      Initial,
		gateCache: Initial,
		wait:      wait,
	}
	if newEntry != nil {
		for i := range r.entries {
			r.entries[i] = newEntry()
		}
	}
	r.cursor.Store(Initial)
	r.gating.Store(&[]*Sequence{})
	return r
}

// Size returns capacity of the ring.
func (r *Ring[T]) Size() int {
	return int(r.size)
}

// Cursor returns highest published sequence.
func (r *Ring[T]) Cursor() int64 {
	return r.cursor.Load()
}

// Get returns entry at provided sequence. Entry is reused every Size
// sequences.
func (r *Ring[T]) Get(seq int64) T {
	return r.entries[seq%r.size]
}

// Entries calls fn for every preallocated entry.
func (r *Ring[T]) Entries(fn func(T)) {
	for i := range r.entries {
		fn(r.entries[i])
	}
}

// Claim reserves n consequent sequences. It blocks until the slowest
// consumer leaves enough room. False is returned if ring was alerted
// while waiting.
func (r *Ring[T]) Claim(n int) (lo, hi int64, ok bool) {
	r.checkClaim(n)
	hi = r.next + int64(n)
	if wrap := hi - r.size; wrap > r.gateCache {
		var gate int64
		if gate, ok = r.wait.WaitFor(wrap, r.minGating, r, 0); !ok {
			return 0, 0, false
		}
		r.cacheGate(gate)
	}
	lo = r.next + 1
	r.next = hi
	return lo, hi, true
}

// TryClaim reserves n consequent sequences without blocking.
// ErrInsufficientCapacity is returned if ring has no room.
func (r *Ring[T]) TryClaim(n int) (lo, hi int64, err error) {
	r.checkClaim(n)
	hi = r.next + int64(n)
	if wrap := hi - r.size; wrap > r.gateCache {
		gate := r.minGating()
		if wrap > gate {
			return 0, 0, ErrInsufficientCapacity
		}
		r.cacheGate(gate)
	}
	lo = r.next + 1
	r.next = hi
	return lo, hi, nil
}

// ForceClaim reserves n consequent sequences ignoring consumers. Entries
// that are not yet consumed are overwritten.
func (r *Ring[T]) ForceClaim(n int) (lo, hi int64) {
	r.checkClaim(n)
	lo = r.next + 1
	r.next += int64(n)
	return lo, r.next
}

// Publish makes all claimed sequences up to seq visible to consumers.
func (r *Ring[T]) Publish(seq int64) {
	r.cursor.Store(seq)
	r.wait.Signal()
}

// Remaining returns number of sequences that can be claimed without
// blocking.
func (r *Ring[T]) Remaining() int64 {
	gate := r.minGating()
	if gate == math.MaxInt64 {
		return r.size
	}
	return r.size - (r.next - gate)
}

// Alert interrupts every wait on the ring. All consequent waits return
// immediately until ClearAlert is called.
func (r *Ring[T]) Alert() {
	r.alerted.Store(true)
	r.wait.Signal()
}

// ClearAlert resets the alert.
func (r *Ring[T]) ClearAlert() {
	r.alerted.Store(false)
}

// Alerted implements Barrier.
func (r *Ring[T]) Alerted() bool {
	return r.alerted.Load()
}

// Reset rewinds producer and every consumer to the initial sequence and
// clears the alert. It must not be called while ring is in use.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range *r.gating.Load() {
		s.Store(Initial)
	}
	r.cursor.Store(Initial)
	r.next = Initial
	r.gateCache = Initial
	r.alerted.Store(false)
}

// NewConsumer registers new gating consumer positioned at the current
// cursor.
func (r *Ring[T]) NewConsumer() *Consumer[T] {
	c := &Consumer[T]{
		ring: r,
		seq:  NewSequence(r.cursor.Load()),
	}
	r.addGating(c.seq)
	return c
}

// NumConsumers returns number of registered gating consumers.
func (r *Ring[T]) NumConsumers() int {
	return len(*r.gating.Load())
}

// WaitFor blocks until seq is published, ring is alerted or timeout
// expires. It's used by consumers and exposed for those who track their
// position outside of the ring.
func (r *Ring[T]) WaitFor(seq int64, timeout time.Duration) (int64, bool) {
	return r.wait.WaitFor(seq, r.cursor.Load, r, timeout)
}

func (r *Ring[T]) checkClaim(n int) {
	if n < 1 || int64(n) > r.size {
		panic(fmt.Sprintf("ring: claim %d out of range [1, %d]", n, r.size))
	}
}

// cacheGate remembers lowest gating sequence. Ring without consumers is
// never cached, consumers might be added later.
func (r *Ring[T]) cacheGate(gate int64) {
	if gate != math.MaxInt64 {
		r.gateCache = gate
	}
}

func (r *Ring[T]) minGating() int64 {
	return minimum(*r.gating.Load(), math.MaxInt64)
}

func (r *Ring[T]) addGating(s *Sequence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.gating.Load()
	seqs := make([]*Sequence, len(old), len(old)+1)
	copy(seqs, old)
	seqs = append(seqs, s)
	r.gating.Store(&seqs)
}

func (r *Ring[T]) removeGating(s *Sequence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.gating.Load()
	seqs := make([]*Sequence, 0, len(old))
	for _, g := range old {
		if g != s {
			seqs = append(seqs, g)
		}
	}
	if len(seqs) == len(old) {
		return false
	}
	r.gating.Store(&seqs)
	// producer might be waiting for removed consumer.
	r.wait.Signal()
	return true
}
