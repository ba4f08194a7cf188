package stream

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/dudk/falcon/ring"
)

// PortOut is an output port of payload type T.
type PortOut[T Data] struct {
	name     string
	newData  func() T
	caps     Capabilities
	defaults Parameters
	policy   OutputPolicy
	slots    []*SlotOut[T]
}

// SlotOut is an output slot. It owns a ring and is used by exactly one
// producer goroutine.
type SlotOut[T Data] struct {
	port  *PortOut[T]
	index int
	state slotState
	info  *StreamInfo
	ring  *ring.Ring[T]

	downstream []*SlotIn[T]

	// claimed range, valid while pending.
	lo, hi    int64
	pending   bool
	published atomic.Int64
}

// NewPortOut returns output port. Name is normalized, graph validates it
// when port is added to the processor.
func NewPortOut[T Data](name string, newData func() T, caps Capabilities, defaults Parameters, policy OutputPolicy) *PortOut[T] {
	return &PortOut[T]{
		name:     normalizeName(name),
		newData:  newData,
		caps:     caps,
		defaults: defaults,
		policy:   policy.normalize(),
	}
}

// Name returns port name.
func (p *PortOut[T]) Name() string {
	return p.name
}

// DataType returns payload type.
func (p *PortOut[T]) DataType() reflect.Type {
	return typeOf[T]()
}

// Capabilities returns port capabilities.
func (p *PortOut[T]) Capabilities() Capabilities {
	return p.caps
}

// DefaultParameters returns parameters new slots start with.
func (p *PortOut[T]) DefaultParameters() Parameters {
	return p.defaults
}

// Policy returns port policy.
func (p *PortOut[T]) Policy() OutputPolicy {
	return p.policy
}

// SetBufferSize overrides ring size of the port slots.
func (p *PortOut[T]) SetBufferSize(n int) {
	if n > 0 {
		p.policy.BufferSize = n
	}
}

// SetWaitStrategy overrides wait strategy of the port slots.
func (p *PortOut[T]) SetWaitStrategy(name string) {
	p.policy.WaitStrategy = name
}

// NumSlots returns number of port slots.
func (p *PortOut[T]) NumSlots() int {
	return len(p.slots)
}

// Slot returns slot by index.
func (p *PortOut[T]) Slot(i int) *SlotOut[T] {
	return p.slots[i]
}

// Slots returns all slots of the port.
func (p *PortOut[T]) Slots() []*SlotOut[T] {
	return p.slots
}

// OutputSlot returns type-erased slot.
func (p *PortOut[T]) OutputSlot(i int) OutputSlot {
	return p.slots[i]
}

// ReserveSlot returns a new slot for negative index. Existing output slot
// can be reserved many times, every connection adds a consumer.
func (p *PortOut[T]) ReserveSlot(index int) (int, error) {
	if index < 0 {
		index = len(p.slots)
	}
	if index >= p.policy.MaxSlots {
		return 0, fmt.Errorf("port %s slot %d: %w: maximum %d", p.name, index, ErrSlotRange, p.policy.MaxSlots)
	}
	p.grow(index + 1)
	return index, nil
}

func (p *PortOut[T]) grow(n int) {
	for i := len(p.slots); i < n; i++ {
		p.slots = append(p.slots, &SlotOut[T]{
			port:  p,
			index: i,
			info:  NewStreamInfo(p.defaults),
		})
	}
}

// Pad adds unconnected slots up to minimum.
func (p *PortOut[T]) Pad() {
	p.grow(p.policy.MinSlots)
}

// Finalize pads port with slots up to minimum and finalizes stream info of
// every slot.
func (p *PortOut[T]) Finalize() error {
	p.Pad()
	for _, s := range p.slots {
		s.info.Finalize()
		if s.state.load() == Connected {
			s.state.advance(Finalized)
		}
	}
	return nil
}

// Allocate creates ring of every slot and registers downstream consumers.
func (p *PortOut[T]) Allocate() error {
	ws := p.policy.WaitStrategy
	for _, s := range p.slots {
		if !s.info.Finalized() {
			return fmt.Errorf("port %s slot %d: %w", p.name, s.index, ErrNotFinalized)
		}
		wait, err := ring.ParseWaitStrategy(ws)
		if err != nil {
			return fmt.Errorf("port %s: %w", p.name, err)
		}
		params := s.info.Parameters()
		r := ring.New(p.policy.BufferSize, p.newData, wait)
		r.Entries(func(d T) {
			if err == nil {
				err = d.Initialize(params)
			}
		})
		if err != nil {
			return fmt.Errorf("port %s slot %d: initialize data: %w", p.name, s.index, err)
		}
		s.ring = r
		for _, in := range s.downstream {
			in.consumer = r.NewConsumer()
		}
	}
	return nil
}

// PrepareProcessing rewinds rings of all slots.
func (p *PortOut[T]) PrepareProcessing() {
	for _, s := range p.slots {
		s.pending = false
		s.published.Store(0)
		if s.ring != nil {
			s.ring.Reset()
		}
		if st := s.state.load(); st == Finalized || st == Running {
			s.state.advance(Running)
		}
	}
}

// Alert wakes producer and consumers of every slot.
func (p *PortOut[T]) Alert() {
	for _, s := range p.slots {
		if s.ring != nil {
			s.ring.Alert()
		}
	}
}

// Index returns slot index within its port.
func (s *SlotOut[T]) Index() int {
	return s.index
}

// State returns slot state.
func (s *SlotOut[T]) State() SlotState {
	return s.state.load()
}

// StreamInfo returns stream info of the slot.
func (s *SlotOut[T]) StreamInfo() *StreamInfo {
	return s.info
}

// NumConsumers returns number of connected input slots.
func (s *SlotOut[T]) NumConsumers() int {
	return len(s.downstream)
}

// Published returns number of payloads published in the current run.
func (s *SlotOut[T]) Published() int64 {
	return s.published.Load()
}

// Claim reserves next payload. Payload is reset if clear is true. False
// is returned if slot was alerted while waiting for room.
func (s *SlotOut[T]) Claim(clear bool) (T, bool) {
	if !s.ClaimN(1, clear) {
		var zero T
		return zero, false
	}
	return s.ring.Get(s.hi), true
}

// ClaimN reserves n payloads, they are accessed with Claimed.
func (s *SlotOut[T]) ClaimN(n int, clear bool) bool {
	var lo, hi int64
	if s.port.policy.Overwrite {
		lo, hi = s.ring.ForceClaim(n)
	} else {
		var ok bool
		if lo, hi, ok = s.ring.Claim(n); !ok {
			return false
		}
	}
	s.claimed(lo, hi, clear)
	return true
}

// TryClaim reserves next payload without blocking.
// ring.ErrInsufficientCapacity is returned if ring is full.
func (s *SlotOut[T]) TryClaim(clear bool) (T, error) {
	lo, hi, err := s.ring.TryClaim(1)
	if err != nil {
		var zero T
		return zero, err
	}
	s.claimed(lo, hi, clear)
	return s.ring.Get(hi), nil
}

func (s *SlotOut[T]) claimed(lo, hi int64, clear bool) {
	for seq := lo; seq <= hi; seq++ {
		d := s.ring.Get(seq)
		if clear {
			d.Reset()
		}
		d.Head().Serial = uint64(seq)
	}
	if !s.pending {
		s.lo = lo
		s.pending = true
	}
	s.hi = hi
}

// NumClaimed returns number of claimed, not yet published payloads.
func (s *SlotOut[T]) NumClaimed() int {
	if !s.pending {
		return 0
	}
	return int(s.hi - s.lo + 1)
}

// Claimed returns i-th claimed payload.
func (s *SlotOut[T]) Claimed(i int) T {
	return s.ring.Get(s.lo + int64(i))
}

// Publish makes all claimed payloads visible to consumers.
func (s *SlotOut[T]) Publish() {
	if !s.pending {
		return
	}
	s.ring.Publish(s.hi)
	s.published.Add(s.hi - s.lo + 1)
	s.pending = false
}
