package processors

import (
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/stream"
)

// Event names of threshold detector.
const (
	ThresholdEvent = "threshold"
	TriggerEvent   = "trigger"
)

// Threshold emits an event every time a channel crosses threshold
// upwards. If it waits for trigger, the first crossing is emitted as
// trigger event and only crossings after it are emitted as threshold
// events.
type Threshold struct {
	options struct {
		Threshold      float64 `yaml:"threshold"`
		WaitForTrigger bool    `yaml:"wait_for_trigger"`
	}
	threshold *shared.Cell[float64]
	in        *stream.PortIn[*payload.MultiChannel]
	out       *stream.PortOut[*payload.Event]

	above   []bool
	waiting bool
}

// Configure implements graph.Configurer.
func (t *Threshold) Configure(options *yaml.Node) error {
	t.options.Threshold = 0.5
	return graph.DecodeOptions(options, &t.options)
}

// CreatePorts implements graph.Processor.
func (t *Threshold) CreatePorts(n *graph.Node) error {
	var err error
	if t.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in", anyMultiChannel, stream.DefaultInputPolicy()); err != nil {
		return err
	}
	t.out, err = graph.CreateOutputPort(n, "events", payload.NewEvent,
		payload.EventCapabilities{Events: []string{ThresholdEvent, TriggerEvent}},
		payload.EventParameters{},
		stream.DefaultOutputPolicy(),
	)
	if err != nil {
		return err
	}
	t.threshold, err = graph.CreateState(n, "threshold", t.options.Threshold,
		shared.Permissions{Self: shared.Read, Peers: shared.Write, External: shared.Write},
		"level of detection")
	return err
}

// Preprocess implements graph.Preprocessor.
func (t *Threshold) Preprocess(ctx *graph.ProcessingContext) error {
	p, err := upstreamParameters(t.in.Slot(0))
	if err != nil {
		return err
	}
	t.above = make([]bool, p.Channels)
	t.waiting = t.options.WaitForTrigger
	if t.waiting {
		ctx.Logger().Info("waiting for trigger")
	}
	return nil
}

// Process implements graph.Processor.
func (t *Threshold) Process(ctx *graph.ProcessingContext) error {
	in := t.in.Slot(0)
	n, ok := in.RetrieveAll()
	if !ok {
		return nil
	}
	level := t.threshold.Get()
	for i := 0; i < n; i++ {
		d := in.At(i)
		for c, ch := range d.Data {
			for s, v := range ch {
				crossed := v >= level && !t.above[c]
				t.above[c] = v >= level
				if !crossed {
					continue
				}
				name := ThresholdEvent
				if t.waiting {
					// trigger fired, stop waiting.
					t.waiting = false
					name = TriggerEvent
					ctx.Logger().WithField("channel", c).Info("trigger observed")
				}
				if !t.emit(name, c, v, d.Timestamps[s]) {
					return nil
				}
			}
		}
	}
	in.Release()
	return nil
}

func (t *Threshold) emit(name string, channel int, value float64, hardware uint64) bool {
	for _, slot := range t.out.Slots() {
		e, ok := slot.Claim(true)
		if !ok {
			return false
		}
		e.Name = name
		e.Channel = channel
		e.Value = value
		e.Hardware = hardware
		slot.Publish()
	}
	return true
}
