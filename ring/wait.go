package ring

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Barrier reports if waiting has to be interrupted.
type Barrier interface {
	Alerted() bool
}

// WaitStrategy defines how idle waiting is performed by both producer and
// consumers of the ring.
type WaitStrategy interface {
	// WaitFor blocks until available() reaches seq, barrier is alerted or
	// timeout expires. Zero timeout means no timeout. Highest available
	// sequence is returned along with false if wait was interrupted.
	WaitFor(seq int64, available func() int64, b Barrier, timeout time.Duration) (int64, bool)
	// Signal wakes up all goroutines blocked in WaitFor.
	Signal()
}

// Blocking parks waiting goroutines until they're signaled. It has the
// lowest CPU footprint, but the highest wake-up latency.
type Blocking struct {
	mu      sync.Mutex
	ch      chan struct{}
	waiters atomic.Int32
}

// BusySpin never yields the thread. It provides lowest latency and should
// be used only when processor is pinned to a dedicated core.
type BusySpin struct{}

// Sleeping spins, then yields and finally sleeps for a fixed period.
type Sleeping struct {
	Spins  int
	Yields int
	Sleep  time.Duration
}

// Wait strategies names.
const (
	BlockingWait = "blocking"
	BusySpinWait = "busyspin"
	SleepingWait = "sleep"
)

// NewBlocking returns a blocking wait strategy.
func NewBlocking() *Blocking {
	return &Blocking{}
}

// NewSleeping returns sleep-poll wait strategy with default settings.
func NewSleeping() *Sleeping {
	return &Sleeping{
		Spins:  100,
		Yields: 100,
		Sleep:  100 * time.Microsecond,
	}
}

// ParseWaitStrategy returns a new strategy instance by its name. Empty
// name results in blocking strategy.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BlockingWait:
		return NewBlocking(), nil
	case BusySpinWait, "busy-spin":
		return BusySpin{}, nil
	case SleepingWait, "sleeping":
		return NewSleeping(), nil
	}
	return nil, fmt.Errorf("unknown wait strategy: %q", name)
}

// WaitFor implements WaitStrategy.
func (w *Blocking) WaitFor(seq int64, available func() int64, b Barrier, timeout time.Duration) (int64, bool) {
	if v := available(); v >= seq {
		return v, true
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	w.waiters.Add(1)
	defer w.waiters.Add(-1)
	for {
		w.mu.Lock()
		if w.ch == nil {
			w.ch = make(chan struct{})
		}
		ch := w.ch
		w.mu.Unlock()

		// check after registration, signal might be already missed.
		if v := available(); v >= seq {
			return v, true
		}
		if b.Alerted() {
			return available(), false
		}
		select {
		case <-ch:
		case <-deadline:
			return available(), false
		}
	}
}

// Signal implements WaitStrategy.
func (w *Blocking) Signal() {
	if w.waiters.Load() == 0 {
		return
	}
	w.mu.Lock()
	if w.ch != nil {
		close(w.ch)
		w.ch = nil
	}
	w.mu.Unlock()
}

// spinCheck is how often spinning strategies look at the clock.
const spinCheck = 1 << 10

// WaitFor implements WaitStrategy.
func (BusySpin) WaitFor(seq int64, available func() int64, b Barrier, timeout time.Duration) (int64, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for i := 0; ; i++ {
		if v := available(); v >= seq {
			return v, true
		}
		if b.Alerted() {
			return available(), false
		}
		if timeout > 0 && i%spinCheck == 0 && time.Now().After(deadline) {
			return available(), false
		}
	}
}

// Signal implements WaitStrategy.
func (BusySpin) Signal() {}

// WaitFor implements WaitStrategy.
func (w *Sleeping) WaitFor(seq int64, available func() int64, b Barrier, timeout time.Duration) (int64, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for i := 0; ; i++ {
		if v := available(); v >= seq {
			return v, true
		}
		if b.Alerted() {
			return available(), false
		}
		switch {
		case i < w.Spins:
			continue
		case i < w.Spins+w.Yields:
			runtime.Gosched()
		default:
			time.Sleep(w.Sleep)
		}
		if timeout > 0 && time.Now().After(deadline) {
			return available(), false
		}
	}
}

// Signal implements WaitStrategy.
func (*Sleeping) Signal() {}
