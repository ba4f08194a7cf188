// Package processors contains processor classes of falcon graphs.
package processors

import (
	"errors"
	"fmt"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/stream"
)

// Processor classes.
const (
	GeneratorClass = "generator"
	ScaleClass     = "scale"
	ThresholdClass = "threshold"
	MixerClass     = "mixer"
	EventLogClass  = "eventlog"
	WavSinkClass   = "wavsink"
	WavSourceClass = "wavsource"
)

// ErrInvalidOptions is returned when processor options are not valid.
var ErrInvalidOptions = errors.New("invalid options")

// Register adds all processor classes to the registry.
func Register(r *graph.Registry) {
	r.Register(GeneratorClass, func() graph.Processor { return &Generator{} })
	r.Register(ScaleClass, func() graph.Processor { return &Scale{} })
	r.Register(ThresholdClass, func() graph.Processor { return &Threshold{} })
	r.Register(MixerClass, func() graph.Processor { return &Mixer{} })
	r.Register(EventLogClass, func() graph.Processor { return &EventLog{} })
	r.Register(WavSinkClass, func() graph.Processor { return &WavSink{} })
	r.Register(WavSourceClass, func() graph.Processor { return &WavSource{} })
}

// NewRegistry returns a registry with all processor classes.
func NewRegistry() *graph.Registry {
	r := graph.NewRegistry()
	Register(r)
	return r
}

var anyMultiChannel = payload.MultiChannelCapabilities{Channels: payload.Any, Samples: payload.Any}

// upstreamParameters returns multichannel parameters of connected slot.
func upstreamParameters(s stream.InputSlot) (payload.MultiChannelParameters, error) {
	info := s.StreamInfo()
	if info == nil {
		return payload.MultiChannelParameters{}, fmt.Errorf("slot %d: %w", s.Index(), stream.ErrNotConnected)
	}
	p, ok := info.Parameters().(payload.MultiChannelParameters)
	if !ok {
		return payload.MultiChannelParameters{}, fmt.Errorf("slot %d: %w: %T", s.Index(), stream.ErrInvalidParameters, info.Parameters())
	}
	return p, nil
}

// forward sets upstream stream info to every output slot.
func forward(in stream.InputSlot, out stream.OutputPort) {
	up := in.StreamInfo()
	for i := 0; i < out.NumSlots(); i++ {
		info := out.OutputSlot(i).StreamInfo()
		info.SetParameters(up.Parameters())
		info.SetRate(up.Rate())
	}
}
