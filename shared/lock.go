package shared

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a lock for short critical sections of processor threads
// which must not be parked by the scheduler.
type SpinLock struct {
	v atomic.Bool
}

// Lock spins until lock is acquired.
func (l *SpinLock) Lock() {
	for i := 0; !l.v.CompareAndSwap(false, true); i++ {
		if i%64 == 63 {
			runtime.Gosched()
		}
	}
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.v.Store(false)
}
