package stream

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/dudk/falcon/ring"
)

// PortIn is an input port of payload type T.
type PortIn[T Data] struct {
	name   string
	caps   Capabilities
	policy InputPolicy
	slots  []*SlotIn[T]
}

// SlotIn is an input slot. It's bound to exactly one upstream slot and is
// used by exactly one consumer goroutine.
type SlotIn[T Data] struct {
	port     *PortIn[T]
	index    int
	state    slotState
	upstream *SlotOut[T]
	consumer *ring.Consumer[T]

	next      int64 // first not released sequence
	window    int64 // number of retrieved entries
	retrieved atomic.Int64
}

// NewPortIn returns input port.
func NewPortIn[T Data](name string, caps Capabilities, policy InputPolicy) *PortIn[T] {
	return &PortIn[T]{
		name:   normalizeName(name),
		caps:   caps,
		policy: policy.normalize(),
	}
}

// Name returns port name.
func (p *PortIn[T]) Name() string {
	return p.name
}

// DataType returns payload type.
func (p *PortIn[T]) DataType() reflect.Type {
	return typeOf[T]()
}

// Capabilities returns port capabilities.
func (p *PortIn[T]) Capabilities() Capabilities {
	return p.caps
}

// Policy returns port policy.
func (p *PortIn[T]) Policy() InputPolicy {
	return p.policy
}

// NumSlots returns number of port slots.
func (p *PortIn[T]) NumSlots() int {
	return len(p.slots)
}

// Slot returns slot by index.
func (p *PortIn[T]) Slot(i int) *SlotIn[T] {
	return p.slots[i]
}

// Slots returns all slots of the port.
func (p *PortIn[T]) Slots() []*SlotIn[T] {
	return p.slots
}

// InputSlot returns type-erased slot.
func (p *PortIn[T]) InputSlot(i int) InputSlot {
	return p.slots[i]
}

// ReserveSlot returns a new slot for negative index. Slot with explicit
// index can be reserved only if it's not connected yet.
func (p *PortIn[T]) ReserveSlot(index int) (int, error) {
	if index < 0 {
		index = len(p.slots)
	}
	if index >= p.policy.MaxSlots {
		return 0, fmt.Errorf("port %s slot %d: %w: maximum %d", p.name, index, ErrSlotRange, p.policy.MaxSlots)
	}
	if index < len(p.slots) && p.slots[index].Connected() {
		return 0, fmt.Errorf("port %s slot %d: %w", p.name, index, ErrSlotTaken)
	}
	for i := len(p.slots); i <= index; i++ {
		p.slots = append(p.slots, &SlotIn[T]{port: p, index: i})
	}
	return index, nil
}

// VerifyCompatibility checks payload type and capabilities of upstream
// port.
func (p *PortIn[T]) VerifyCompatibility(upstream OutputPort) error {
	if ut, t := upstream.DataType(), p.DataType(); ut != t {
		return fmt.Errorf("%w: %v != %v", ErrTypeMismatch, ut, t)
	}
	return p.caps.VerifyCompatibility(upstream.Capabilities())
}

// Connect binds input slot to upstream slot. Slot must be reserved.
func (p *PortIn[T]) Connect(index int, upstream OutputSlot) error {
	if index < 0 || index >= len(p.slots) {
		return fmt.Errorf("port %s slot %d: %w", p.name, index, ErrSlotRange)
	}
	up, ok := upstream.(*SlotOut[T])
	if !ok {
		return fmt.Errorf("port %s: %w: %T", p.name, ErrTypeMismatch, upstream)
	}
	s := p.slots[index]
	if s.Connected() {
		return fmt.Errorf("port %s slot %d: %w", p.name, index, ErrSlotTaken)
	}
	s.upstream = up
	up.downstream = append(up.downstream, s)
	s.state.advance(Connected)
	up.state.advance(Connected)
	return nil
}

// Validate checks that port has enough connected slots and every
// upstream stream has valid parameters.
func (p *PortIn[T]) Validate() error {
	if len(p.slots) < p.policy.MinSlots {
		return fmt.Errorf("port %s: %w: %d slots connected, minimum %d", p.name, ErrNotConnected, len(p.slots), p.policy.MinSlots)
	}
	for _, s := range p.slots {
		if !s.Connected() {
			return fmt.Errorf("port %s slot %d: %w", p.name, s.index, ErrNotConnected)
		}
		if err := p.caps.Validate(s.upstream.info.Parameters()); err != nil {
			return fmt.Errorf("port %s slot %d: %w", p.name, s.index, err)
		}
	}
	return nil
}

// Finalize marks slots negotiated. Upstream stream info must be
// finalized.
func (p *PortIn[T]) Finalize() error {
	for _, s := range p.slots {
		if !s.Connected() {
			continue
		}
		if !s.upstream.info.Finalized() {
			return fmt.Errorf("port %s slot %d: %w", p.name, s.index, ErrNotFinalized)
		}
		s.state.advance(Finalized)
	}
	return nil
}

// PrepareProcessing rewinds read position of all slots.
func (p *PortIn[T]) PrepareProcessing() {
	for _, s := range p.slots {
		s.next = 0
		s.window = 0
		s.retrieved.Store(0)
		if st := s.state.load(); st == Finalized || st == Running {
			s.state.advance(Running)
		}
	}
}

// Index returns slot index within its port.
func (s *SlotIn[T]) Index() int {
	return s.index
}

// State returns slot state.
func (s *SlotIn[T]) State() SlotState {
	return s.state.load()
}

// Connected reports if slot has upstream.
func (s *SlotIn[T]) Connected() bool {
	return s.upstream != nil
}

// Upstream returns upstream slot.
func (s *SlotIn[T]) Upstream() OutputSlot {
	if s.upstream == nil {
		return nil
	}
	return s.upstream
}

// StreamInfo returns upstream stream info.
func (s *SlotIn[T]) StreamInfo() *StreamInfo {
	if s.upstream == nil {
		return nil
	}
	return s.upstream.info
}

// Retrieved returns number of payloads released in the current run.
func (s *SlotIn[T]) Retrieved() int64 {
	return s.retrieved.Load()
}

// Retrieve waits until n payloads are available. False is returned if
// wait was interrupted by alert or port timeout.
func (s *SlotIn[T]) Retrieve(n int) bool {
	if s.consumer == nil || n < 1 {
		return false
	}
	if _, ok := s.consumer.WaitFor(s.next+int64(n)-1, s.port.policy.Timeout); !ok {
		return false
	}
	s.window = int64(n)
	return true
}

// RetrieveAll waits for at least one payload and retrieves all available
// ones. Number of retrieved payloads is returned.
func (s *SlotIn[T]) RetrieveAll() (int, bool) {
	if s.consumer == nil {
		return 0, false
	}
	avail, ok := s.consumer.WaitFor(s.next, s.port.policy.Timeout)
	if !ok {
		return 0, false
	}
	s.window = avail - s.next + 1
	return int(s.window), true
}

// Len returns number of retrieved payloads.
func (s *SlotIn[T]) Len() int {
	return int(s.window)
}

// At returns i-th retrieved payload.
func (s *SlotIn[T]) At(i int) T {
	return s.consumer.Get(s.next + int64(i))
}

// Release hands all retrieved payloads back to producer.
func (s *SlotIn[T]) Release() {
	s.ReleaseN(int(s.window))
}

// ReleaseN hands n oldest retrieved payloads back to producer.
func (s *SlotIn[T]) ReleaseN(n int) {
	if n <= 0 {
		return
	}
	if int64(n) > s.window {
		n = int(s.window)
	}
	s.next += int64(n)
	s.window -= int64(n)
	s.retrieved.Add(int64(n))
	s.consumer.Release(s.next - 1)
}
