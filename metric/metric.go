// Package metric measures processing of every processor.
package metric

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudk/falcon/signal"
)

const (
	// CallCounter measures number of process calls.
	CallCounter = "Calls"
	// PayloadCounter measures number of published payloads.
	PayloadCounter = "Payloads"
	// LatencyCounter measures latency between process calls.
	LatencyCounter = "Latency"
	// DurationCounter measures duration of published stream.
	DurationCounter = "Duration"
	// ElapsedCounter measures time since run was started.
	ElapsedCounter = "Elapsed"
	// RunCounter measures number of runs.
	RunCounter = "Runs"
)

var counters = []string{
	CallCounter,
	PayloadCounter,
	LatencyCounter,
	DurationCounter,
	ElapsedCounter,
	RunCounter,
}

// Metric holds meters of all processors of a graph.
type Metric struct {
	mu     sync.Mutex
	meters map[string]*meter
}

// New returns an empty metric.
func New() *Metric {
	return &Metric{meters: make(map[string]*meter)}
}

// ResetFunc returns new Measure closure. This closure is needed to
// postpone metrics capture until processor is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics after every process call. Payloads is the
// total number of payloads published in the run.
type MeasureFunc func(payloads int64)

// Meter creates new meter closure to capture processor counters. Rate is
// used to compute stream duration.
func (m *Metric) Meter(processor string, rate float64) ResetFunc {
	mt := m.get(processor)
	return func() MeasureFunc {
		mt.runs.Add(1)
		mt.reset()
		startedAt := time.Now()
		calledAt := startedAt
		return func(payloads int64) {
			now := time.Now()
			mt.latency.set(now.Sub(calledAt))
			mt.elapsed.set(now.Sub(startedAt))
			mt.calls.Add(1)
			mt.payloads.Store(payloads)
			mt.duration.set(signal.DurationOf(rate, payloads))
			calledAt = now
		}
	}
}

// Remove deletes meter of processor.
func (m *Metric) Remove(processor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.meters, processor)
}

// Processors returns names of measured processors in sorted order.
func (m *Metric) Processors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.meters))
	for name := range m.meters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns counter values of processor.
func (m *Metric) Get(processor string) map[string]string {
	m.mu.Lock()
	mt, ok := m.meters[processor]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return mt.strings()
}

// GetAll returns counters of all measured processors.
func (m *Metric) GetAll() map[string]map[string]string {
	result := make(map[string]map[string]string)
	for _, p := range m.Processors() {
		if v := m.Get(p); v != nil {
			result[p] = v
		}
	}
	return result
}

// Measure returns a snapshot of processor counters.
func (m *Metric) Measure(processor string) (Snapshot, bool) {
	m.mu.Lock()
	mt, ok := m.meters[processor]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return mt.snapshot(), true
}

// Snapshot is a set of counter values.
type Snapshot struct {
	Calls    int64
	Payloads int64
	Runs     int64
	Latency  time.Duration
	Duration time.Duration
	Elapsed  time.Duration
}

func (m *Metric) get(processor string) *meter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.meters[processor]; ok {
		// return existing meter if available
		return mt
	}
	mt := &meter{}
	m.meters[processor] = mt
	return mt
}

type meter struct {
	calls    atomic.Int64
	payloads atomic.Int64
	runs     atomic.Int64
	latency  duration
	duration duration
	elapsed  duration
}

func (mt *meter) reset() {
	mt.calls.Store(0)
	mt.payloads.Store(0)
	mt.latency.set(0)
	mt.duration.set(0)
	mt.elapsed.set(0)
}

func (mt *meter) snapshot() Snapshot {
	return Snapshot{
		Calls:    mt.calls.Load(),
		Payloads: mt.payloads.Load(),
		Runs:     mt.runs.Load(),
		Latency:  mt.latency.get(),
		Duration: mt.duration.get(),
		Elapsed:  mt.elapsed.get(),
	}
}

func (mt *meter) strings() map[string]string {
	s := mt.snapshot()
	values := map[string]string{
		CallCounter:     fmt.Sprint(s.Calls),
		PayloadCounter:  fmt.Sprint(s.Payloads),
		RunCounter:      fmt.Sprint(s.Runs),
		LatencyCounter:  s.Latency.String(),
		DurationCounter: s.Duration.String(),
		ElapsedCounter:  s.Elapsed.String(),
	}
	result := make(map[string]string, len(counters))
	for _, c := range counters {
		result[c] = values[c]
	}
	return result
}

// duration allows to format time.Duration metric values.
type duration struct {
	d atomic.Int64
}

func (v *duration) String() string {
	return v.get().String()
}

func (v *duration) get() time.Duration {
	return time.Duration(v.d.Load())
}

func (v *duration) set(value time.Duration) {
	v.d.Store(int64(value))
}
