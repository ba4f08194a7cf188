package stream

import (
	"fmt"
	"sync/atomic"
)

// SlotState is a stage of slot lifecycle.
type SlotState int32

// Slot states in the order of transitions.
const (
	Created SlotState = iota
	Connected
	Finalized
	Running
)

func (s SlotState) String() string {
	switch s {
	case Created:
		return "created"
	case Connected:
		return "connected"
	case Finalized:
		return "finalized"
	case Running:
		return "running"
	}
	return fmt.Sprintf("SlotState(%d)", int32(s))
}

type slotState struct {
	v atomic.Int32
}

func (s *slotState) load() SlotState {
	return SlotState(s.v.Load())
}

// advance moves state forward by one step. Connected and Running may be
// repeated: output slot gets more consumers and graph runs many times.
// Other transitions panic.
func (s *slotState) advance(to SlotState) {
	from := s.load()
	switch {
	case to == from+1:
	case to == from && (to == Connected || to == Running):
	default:
		panic(fmt.Sprintf("stream: illegal slot transition %v -> %v", from, to))
	}
	s.v.Store(int32(to))
}
