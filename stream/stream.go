// Package stream provides typed ports and slots which processors use to
// exchange data. Every output slot owns a ring of preallocated payloads,
// every input slot reads from exactly one upstream output slot.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrFinalized is the panic value of mutating finalized stream info.
	ErrFinalized = errors.New("stream info is finalized")
	// ErrInvalidName is returned when port name is not valid.
	ErrInvalidName = errors.New("invalid port name")
	// ErrSlotRange is returned when requested slot index exceeds port policy.
	ErrSlotRange = errors.New("slot index out of range")
	// ErrSlotTaken is returned when input slot is already connected.
	ErrSlotTaken = errors.New("slot is already connected")
	// ErrTypeMismatch is returned when ports carry different payload types.
	ErrTypeMismatch = errors.New("payload types don't match")
	// ErrIncompatible is returned by capabilities that don't overlap.
	ErrIncompatible = errors.New("incompatible capabilities")
	// ErrInvalidParameters is returned when parameters don't fit capabilities.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrNotConnected is returned when required slot has no upstream.
	ErrNotConnected = errors.New("slot is not connected")
	// ErrNotFinalized is returned when ring is allocated before negotiation.
	ErrNotFinalized = errors.New("stream info is not finalized")
)

// Parameters describe a concrete instance of payload configuration.
type Parameters interface{}

// Capabilities describe acceptable configuration of a payload type.
type Capabilities interface {
	// VerifyCompatibility checks if upstream capabilities overlap with
	// the receiver.
	VerifyCompatibility(upstream Capabilities) error
	// Validate checks if parameters fit the capabilities.
	Validate(p Parameters) error
}

// Header is embedded into every payload.
type Header struct {
	// Serial is the sequence number of the payload within its stream.
	Serial uint64
	// Source is the time when payload was produced.
	Source time.Time
	// Hardware is the acquisition device timestamp.
	Hardware uint64
}

// Head returns the header. Payloads get it by embedding Header.
func (h *Header) Head() *Header {
	return h
}

// Data is a payload carried by streams. Instances are allocated once per
// ring entry and reused.
type Data interface {
	Head() *Header
	// Initialize allocates payload buffers according to parameters.
	Initialize(p Parameters) error
	// Reset clears payload content, buffers are kept.
	Reset()
}

// StreamInfo holds parameters and rate of an output stream. It's mutable
// until finalized.
type StreamInfo struct {
	mu        sync.RWMutex
	params    Parameters
	rate      float64
	finalized bool
}

// NewStreamInfo returns stream info initialized with parameters.
func NewStreamInfo(p Parameters) *StreamInfo {
	return &StreamInfo{params: p}
}

// Parameters returns stream parameters.
func (s *StreamInfo) Parameters() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Rate returns stream rate in payloads per second.
func (s *StreamInfo) Rate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// SetParameters replaces stream parameters. It panics if info is
// finalized.
func (s *StreamInfo) SetParameters(p Parameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustMutable("parameters")
	s.params = p
}

// SetRate sets stream rate. It panics if info is finalized.
func (s *StreamInfo) SetRate(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustMutable("rate")
	s.rate = r
}

// Finalize makes stream info immutable. Repeated calls have no effect.
func (s *StreamInfo) Finalize() {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
}

// Finalized reports if stream info is immutable.
func (s *StreamInfo) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

func (s *StreamInfo) mustMutable(field string) {
	if s.finalized {
		panic(fmt.Errorf("set %s: %w", field, ErrFinalized))
	}
}
