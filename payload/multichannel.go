package payload

import (
	"fmt"

	"github.com/dudk/falcon/stream"
)

// MultiChannelCapabilities are ranges of channels and samples per buffer
// accepted by a port.
type MultiChannelCapabilities struct {
	Channels Range
	Samples  Range
}

// MultiChannelParameters is a concrete multichannel stream configuration.
type MultiChannelParameters struct {
	Channels   int
	Samples    int
	SampleRate float64
}

// MultiChannel is a buffer of samples for a number of channels.
type MultiChannel struct {
	stream.Header
	// Data is indexed by channel and then by sample.
	Data [][]float64
	// Timestamps are per sample hardware timestamps.
	Timestamps []uint64
	SampleRate float64
}

// NewMultiChannel is a payload factory used by output ports.
func NewMultiChannel() *MultiChannel {
	return &MultiChannel{}
}

// VerifyCompatibility implements stream.Capabilities.
func (c MultiChannelCapabilities) VerifyCompatibility(upstream stream.Capabilities) error {
	u, ok := upstream.(MultiChannelCapabilities)
	if !ok {
		return fmt.Errorf("%w: %T is not multichannel", stream.ErrIncompatible, upstream)
	}
	if !u.Channels.Overlaps(c.Channels) {
		return fmt.Errorf("%w: channels %v don't overlap %v", stream.ErrIncompatible, u.Channels, c.Channels)
	}
	if !u.Samples.Overlaps(c.Samples) {
		return fmt.Errorf("%w: samples %v don't overlap %v", stream.ErrIncompatible, u.Samples, c.Samples)
	}
	return nil
}

// Validate implements stream.Capabilities.
func (c MultiChannelCapabilities) Validate(p stream.Parameters) error {
	mp, ok := p.(MultiChannelParameters)
	if !ok {
		return fmt.Errorf("%w: %T is not multichannel", stream.ErrInvalidParameters, p)
	}
	if !c.Channels.Contains(mp.Channels) {
		return fmt.Errorf("%w: %d channels out of %v", stream.ErrInvalidParameters, mp.Channels, c.Channels)
	}
	if !c.Samples.Contains(mp.Samples) {
		return fmt.Errorf("%w: %d samples out of %v", stream.ErrInvalidParameters, mp.Samples, c.Samples)
	}
	return nil
}

// Initialize implements stream.Data.
func (m *MultiChannel) Initialize(p stream.Parameters) error {
	mp, ok := p.(MultiChannelParameters)
	if !ok {
		return fmt.Errorf("%w: %T is not multichannel", stream.ErrInvalidParameters, p)
	}
	if mp.Channels < 1 || mp.Samples < 1 {
		return fmt.Errorf("%w: %d channels, %d samples", stream.ErrInvalidParameters, mp.Channels, mp.Samples)
	}
	m.Data = make([][]float64, mp.Channels)
	for i := range m.Data {
		m.Data[i] = make([]float64, mp.Samples)
	}
	m.Timestamps = make([]uint64, mp.Samples)
	m.SampleRate = mp.SampleRate
	return nil
}

// Reset implements stream.Data.
func (m *MultiChannel) Reset() {
	for _, ch := range m.Data {
		for i := range ch {
			ch[i] = 0
		}
	}
	for i := range m.Timestamps {
		m.Timestamps[i] = 0
	}
	m.Hardware = 0
}

// NumChannels returns number of channels.
func (m *MultiChannel) NumChannels() int {
	return len(m.Data)
}

// NumSamples returns number of samples per channel.
func (m *MultiChannel) NumSamples() int {
	return len(m.Timestamps)
}
