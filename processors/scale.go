package processors

import (
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// Scale multiplies samples by gain.
type Scale struct {
	options struct {
		Gain float64 `yaml:"gain"`
	}
	gain *shared.Cell[float64]
	in   *stream.PortIn[*payload.MultiChannel]
	out  *stream.PortOut[*payload.MultiChannel]
}

// Configure implements graph.Configurer.
func (s *Scale) Configure(options *yaml.Node) error {
	s.options.Gain = 1
	return graph.DecodeOptions(options, &s.options)
}

// CreatePorts implements graph.Processor.
func (s *Scale) CreatePorts(n *graph.Node) error {
	var err error
	if s.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in", anyMultiChannel, stream.DefaultInputPolicy()); err != nil {
		return err
	}
	if s.out, err = graph.CreateOutputPort(n, "out", payload.NewMultiChannel, anyMultiChannel, nil, stream.DefaultOutputPolicy()); err != nil {
		return err
	}
	s.gain, err = graph.CreateState(n, "gain", s.options.Gain,
		shared.Permissions{Self: shared.Read, Peers: shared.Write, External: shared.Write},
		"multiplier of samples")
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (s *Scale) CompleteStreamInfo(*graph.Node) error {
	forward(s.in.Slot(0), s.out)
	return nil
}

// Process implements graph.Processor.
func (s *Scale) Process(*graph.ProcessingContext) error {
	in := s.in.Slot(0)
	n, ok := in.RetrieveAll()
	if !ok {
		return nil
	}
	gain := s.gain.Get()
	for i := 0; i < n; i++ {
		src := in.At(i)
		for _, slot := range s.out.Slots() {
			d, ok := slot.Claim(false)
			if !ok {
				return nil
			}
			for c := range d.Data {
				copy(d.Data[c], src.Data[c])
			}
			copy(d.Timestamps, src.Timestamps)
			signal.Float64(d.Data).Scale(gain)
			d.Source, d.Hardware = src.Source, src.Hardware
			slot.Publish()
		}
	}
	in.Release()
	return nil
}
