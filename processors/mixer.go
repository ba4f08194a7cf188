package processors

import (
	"fmt"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// Mixer averages buffers of all input slots. Buffers are aligned by
// serial number: older heads are dropped until all slots hold the same
// serial. Upstream streams must have the same parameters.
type Mixer struct {
	in  *stream.PortIn[*payload.MultiChannel]
	out *stream.PortOut[*payload.MultiChannel]

	sources []signal.Float64
	dropped int64
}

// CreatePorts implements graph.Processor.
func (m *Mixer) CreatePorts(n *graph.Node) error {
	var err error
	m.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in", anyMultiChannel,
		stream.InputPolicy{MinSlots: 1, MaxSlots: stream.DefaultMaxSlots})
	if err != nil {
		return err
	}
	m.out, err = graph.CreateOutputPort(n, "mix", payload.NewMultiChannel, anyMultiChannel, nil, stream.DefaultOutputPolicy())
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (m *Mixer) CompleteStreamInfo(*graph.Node) error {
	slots := m.in.Slots()
	first, err := upstreamParameters(slots[0])
	if err != nil {
		return err
	}
	for _, s := range slots[1:] {
		p, err := upstreamParameters(s)
		if err != nil {
			return err
		}
		if p != first {
			return fmt.Errorf("%w: slot %d has %+v, slot 0 has %+v", stream.ErrInvalidParameters, s.Index(), p, first)
		}
	}
	forward(slots[0], m.out)
	return nil
}

// Preprocess implements graph.Preprocessor.
func (m *Mixer) Preprocess(*graph.ProcessingContext) error {
	m.sources = make([]signal.Float64, m.in.NumSlots())
	m.dropped = 0
	return nil
}

// Postprocess implements graph.Postprocessor.
func (m *Mixer) Postprocess(ctx *graph.ProcessingContext) error {
	if m.dropped > 0 {
		ctx.Logger().WithField("buffers", m.dropped).Warn("buffers without matching serial number are dropped")
	}
	return nil
}

// Process implements graph.Processor.
func (m *Mixer) Process(*graph.ProcessingContext) error {
	slots := m.in.Slots()
	dropped, ok := align(slots)
	m.dropped += dropped
	if !ok {
		return nil
	}
	first := slots[0].At(0)
	for i, s := range slots {
		m.sources[i] = signal.Float64(s.At(0).Data)
	}
	for _, out := range m.out.Slots() {
		d, ok := out.Claim(false)
		if !ok {
			return nil
		}
		signal.Float64(d.Data).Average(m.sources...)
		copy(d.Timestamps, first.Timestamps)
		d.Source, d.Hardware = first.Source, first.Hardware
		out.Publish()
	}
	for _, s := range slots {
		s.Release()
	}
	return nil
}

// headSlot is an input slot that exposes its oldest payload.
type headSlot interface {
	Retrieve(n int) bool
	At(i int) *payload.MultiChannel
	Release()
}

// align retrieves a head payload of every slot and releases heads older
// than the latest one until all serial numbers are equal. Number of
// released payloads is returned, false means that retrieval was
// interrupted.
func align[S headSlot](slots []S) (int64, bool) {
	var dropped int64
	for {
		var latest uint64
		for _, s := range slots {
			if !s.Retrieve(1) {
				return dropped, false
			}
			if serial := s.At(0).Serial; serial > latest {
				latest = serial
			}
		}
		aligned := true
		for _, s := range slots {
			if s.At(0).Serial < latest {
				s.Release()
				dropped++
				aligned = false
			}
		}
		if aligned {
			return dropped, true
		}
	}
}
