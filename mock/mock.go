// Package mock provides mocks of processors and allows to execute
// integration tests of the graph.
package mock

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// Mock classes.
const (
	SourceClass = "mock-source"
	RelayClass  = "mock-relay"
	SinkClass   = "mock-sink"
)

// Registry returns a registry with mock classes. Every class creates a
// copy of the provided prototype, nil prototype means defaults. Created
// processors are collected by the returned Instances.
func Registry(source *Source, relay *Relay, sink *Sink) (*graph.Registry, *Instances) {
	if source == nil {
		source = &Source{}
	}
	if relay == nil {
		relay = &Relay{}
	}
	if sink == nil {
		sink = &Sink{}
	}
	inst := &Instances{}
	r := graph.NewRegistry()
	r.Register(SourceClass, func() graph.Processor {
		m := &Source{
			Channels:    source.Channels,
			Samples:     source.Samples,
			Rate:        source.Rate,
			Limit:       source.Limit,
			Value:       source.Value,
			Interval:    source.Interval,
			ErrorOnCall: source.ErrorOnCall,
			PanicOnCall: source.PanicOnCall,
			Hooks:       source.Hooks.copy(),
		}
		inst.add(m)
		return m
	})
	r.Register(RelayClass, func() graph.Processor {
		m := &Relay{ErrorOnCall: relay.ErrorOnCall, Hooks: relay.Hooks.copy()}
		inst.add(m)
		return m
	})
	r.Register(SinkClass, func() graph.Processor {
		m := &Sink{Slots: sink.Slots, Discard: sink.Discard, ErrorOnCall: sink.ErrorOnCall, Hooks: sink.Hooks.copy()}
		inst.add(m)
		return m
	})
	return r, inst
}

// Instances collects mocks created by registry.
type Instances struct {
	mu      sync.Mutex
	sources []*Source
	relays  []*Relay
	sinks   []*Sink
}

func (i *Instances) add(p graph.Processor) {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch m := p.(type) {
	case *Source:
		i.sources = append(i.sources, m)
	case *Relay:
		i.relays = append(i.relays, m)
	case *Sink:
		i.sinks = append(i.sinks, m)
	}
}

// Sources returns created sources.
func (i *Instances) Sources() []*Source {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Source(nil), i.sources...)
}

// Relays returns created relays.
func (i *Instances) Relays() []*Relay {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Relay(nil), i.relays...)
}

// Sinks returns created sinks.
func (i *Instances) Sinks() []*Sink {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Sink(nil), i.sinks...)
}

// ErrPanic is a value mocks panic with.
var ErrPanic = errors.New("mock panic")

// Source mocks a multichannel source. It publishes Value to every
// sample of its "data" output.
type Source struct {
	counter
	Channels int
	Samples  int
	// Rate is a sample rate.
	Rate float64
	// Limit is a number of payloads, source ends the stream after
	// them. Zero means no limit.
	Limit       int
	Value       float64
	Interval    time.Duration
	ErrorOnCall error
	PanicOnCall bool
	Hooks

	out *stream.PortOut[*payload.MultiChannel]
}

// Configure implements graph.Configurer. Options override limit and
// value of the prototype.
func (m *Source) Configure(options *yaml.Node) error {
	opts := struct {
		Limit int     `yaml:"limit"`
		Value float64 `yaml:"value"`
	}{
		Limit: m.Limit,
		Value: m.Value,
	}
	if err := graph.DecodeOptions(options, &opts); err != nil {
		return err
	}
	m.Limit, m.Value = opts.Limit, opts.Value
	return nil
}

// CreatePorts implements graph.Processor.
func (m *Source) CreatePorts(n *graph.Node) error {
	if m.Channels == 0 {
		m.Channels = 1
	}
	if m.Samples == 0 {
		m.Samples = 1
	}
	var err error
	m.out, err = graph.CreateOutputPort(n, "data", payload.NewMultiChannel,
		payload.MultiChannelCapabilities{
			Channels: payload.Range{Min: m.Channels, Max: m.Channels},
			Samples:  payload.Range{Min: m.Samples, Max: m.Samples},
		},
		payload.MultiChannelParameters{Channels: m.Channels, Samples: m.Samples, SampleRate: m.Rate},
		stream.DefaultOutputPolicy(),
	)
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (m *Source) CompleteStreamInfo(*graph.Node) error {
	for _, s := range m.out.Slots() {
		s.StreamInfo().SetRate(m.Rate / float64(m.Samples))
	}
	return nil
}

// Process implements graph.Processor.
func (m *Source) Process(ctx *graph.ProcessingContext) error {
	m.started(ctx)
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if m.PanicOnCall {
		panic(ErrPanic)
	}
	if m.Limit > 0 && m.Messages() >= m.Limit {
		return graph.ErrEndOfStream
	}
	if m.Interval > 0 {
		time.Sleep(m.Interval)
	}
	for _, s := range m.out.Slots() {
		d, ok := s.Claim(true)
		if !ok {
			return nil
		}
		for _, ch := range d.Data {
			for i := range ch {
				ch[i] = m.Value
			}
		}
		d.Source = time.Now()
		s.Publish()
	}
	m.advance(m.Samples)
	return nil
}

// Relay mocks a processor. It multiplies samples by "gain" state.
type Relay struct {
	counter
	ErrorOnCall error
	Hooks

	gain *shared.Cell[float64]
	in   *stream.PortIn[*payload.MultiChannel]
	out  *stream.PortOut[*payload.MultiChannel]
}

// CreatePorts implements graph.Processor.
func (m *Relay) CreatePorts(n *graph.Node) error {
	var err error
	caps := payload.MultiChannelCapabilities{Channels: payload.Any, Samples: payload.Any}
	if m.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in", caps, stream.DefaultInputPolicy()); err != nil {
		return err
	}
	if m.out, err = graph.CreateOutputPort(n, "out", payload.NewMultiChannel, caps, nil, stream.DefaultOutputPolicy()); err != nil {
		return err
	}
	m.gain, err = graph.CreateState(n, "gain", 1.0,
		shared.Permissions{Self: shared.Read, Peers: shared.Write, External: shared.Write},
		"multiplier of samples")
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (m *Relay) CompleteStreamInfo(*graph.Node) error {
	up := m.in.Slot(0).StreamInfo()
	for _, s := range m.out.Slots() {
		s.StreamInfo().SetParameters(up.Parameters())
		s.StreamInfo().SetRate(up.Rate())
	}
	return nil
}

// Gain returns gain state.
func (m *Relay) Gain() *shared.Cell[float64] {
	return m.gain
}

// Process implements graph.Processor.
func (m *Relay) Process(ctx *graph.ProcessingContext) error {
	m.started(ctx)
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	in := m.in.Slot(0)
	if !in.Retrieve(1) {
		return nil
	}
	src := in.At(0)
	gain := m.gain.Get()
	for _, s := range m.out.Slots() {
		d, ok := s.Claim(false)
		if !ok {
			return nil
		}
		for i := range d.Data {
			copy(d.Data[i], src.Data[i])
		}
		signal.Float64(d.Data).Scale(gain)
		d.Source, d.Hardware = src.Source, src.Hardware
		s.Publish()
	}
	m.advance(src.NumSamples())
	in.Release()
	return nil
}

// Sink mocks a multichannel sink. It keeps samples of the first channel
// unless Discard is set. Samples must not be checked while graph is
// running.
type Sink struct {
	counter
	// Slots is a maximum number of input slots.
	Slots       int
	Discard     bool
	ErrorOnCall error
	Hooks

	samples []float64
	in      *stream.PortIn[*payload.MultiChannel]
}

// CreatePorts implements graph.Processor.
func (m *Sink) CreatePorts(n *graph.Node) error {
	policy := stream.DefaultInputPolicy()
	if m.Slots > 1 {
		policy.MaxSlots = m.Slots
	}
	var err error
	m.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in",
		payload.MultiChannelCapabilities{Channels: payload.Any, Samples: payload.Any}, policy)
	if err != nil {
		return err
	}
	return n.AddMethod("count", func(*yaml.Node) (interface{}, error) {
		return m.Messages(), nil
	})
}

// Process implements graph.Processor.
func (m *Sink) Process(ctx *graph.ProcessingContext) error {
	m.started(ctx)
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	for _, s := range m.in.Slots() {
		n, ok := s.RetrieveAll()
		if !ok {
			return nil
		}
		for i := 0; i < n; i++ {
			d := s.At(i)
			if !m.Discard {
				m.samples = append(m.samples, d.Data[0]...)
			}
			m.advance(d.NumSamples())
		}
		s.Release()
	}
	return nil
}

// Samples returns received samples of the first channel.
func (m *Sink) Samples() []float64 {
	return m.samples
}

// Hooks allows to mock processor hooks.
type Hooks struct {
	Prepared      bool
	Unprepared    bool
	Preprocessed  bool
	Postprocessed bool
	Alerted       bool

	ErrorOnPrepare     error
	ErrorOnUnprepare   error
	ErrorOnPreprocess  error
	ErrorOnPostprocess error

	// PreprocessDelay slows down preprocessing. Delay is interrupted
	// when run is stopped.
	PreprocessDelay time.Duration
	// PreprocessedAt is set when preprocessing is done.
	PreprocessedAt time.Time
	// StartedAt is set by the first process call of the run.
	StartedAt time.Time
	// TerminatedOnStart is termination flag observed by the first
	// process call of the run.
	TerminatedOnStart bool
}

func (h Hooks) copy() Hooks {
	return Hooks{
		ErrorOnPrepare:     h.ErrorOnPrepare,
		ErrorOnUnprepare:   h.ErrorOnUnprepare,
		ErrorOnPreprocess:  h.ErrorOnPreprocess,
		ErrorOnPostprocess: h.ErrorOnPostprocess,
		PreprocessDelay:    h.PreprocessDelay,
	}
}

// Prepare implements graph.Preparer.
func (h *Hooks) Prepare(*graph.Node) error {
	h.Prepared = true
	return h.ErrorOnPrepare
}

// Unprepare implements graph.Unpreparer.
func (h *Hooks) Unprepare(*graph.Node) error {
	h.Unprepared = true
	return h.ErrorOnUnprepare
}

// Preprocess implements graph.Preprocessor.
func (h *Hooks) Preprocess(ctx *graph.ProcessingContext) error {
	h.StartedAt = time.Time{}
	if h.PreprocessDelay > 0 {
		t := time.NewTimer(h.PreprocessDelay)
		select {
		case <-t.C:
		case <-ctx.Run().Stopped():
			t.Stop()
		}
	}
	h.Preprocessed = true
	h.PreprocessedAt = time.Now()
	return h.ErrorOnPreprocess
}

// Postprocess implements graph.Postprocessor.
func (h *Hooks) Postprocess(*graph.ProcessingContext) error {
	h.Postprocessed = true
	return h.ErrorOnPostprocess
}

// Alert implements graph.Alerter.
func (h *Hooks) Alert() {
	h.Alerted = true
}

func (h *Hooks) started(ctx *graph.ProcessingContext) {
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
		h.TerminatedOnStart = ctx.Terminated()
	}
}

// counter counts messages and samples.
type counter struct {
	messages atomic.Int64
	samples  atomic.Int64
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.messages.Add(1)
	c.samples.Add(int64(size))
}

// Messages returns number of processed messages.
func (c *counter) Messages() int {
	return int(c.messages.Load())
}

// Count returns messages and samples metrics.
func (c *counter) Count() (int, int) {
	return int(c.messages.Load()), int(c.samples.Load())
}
