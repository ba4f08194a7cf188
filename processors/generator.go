package processors

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// Generator is a synthetic multichannel source. Every channel is a sine
// wave shifted in phase.
type Generator struct {
	options struct {
		Channels   int     `yaml:"channels"`
		Samples    int     `yaml:"samples"`
		SampleRate float64 `yaml:"sample_rate"`
		Frequency  float64 `yaml:"frequency"`
		Amplitude  float64 `yaml:"amplitude"`
		Offset     float64 `yaml:"offset"`
		// Realtime paces buffers with the sample rate.
		Realtime bool `yaml:"realtime"`
		// Limit is a number of buffers, zero means infinite stream.
		Limit int `yaml:"limit"`
	}
	amplitude *shared.Cell[float64]
	out       *stream.PortOut[*payload.MultiChannel]

	position  int64
	buffers   int
	startedAt time.Time
}

// Configure implements graph.Configurer.
func (g *Generator) Configure(options *yaml.Node) error {
	g.options.Channels = 1
	g.options.Samples = 100
	g.options.SampleRate = 1000
	g.options.Frequency = 10
	g.options.Amplitude = 1
	g.options.Realtime = true
	if err := graph.DecodeOptions(options, &g.options); err != nil {
		return err
	}
	if g.options.Channels < 1 || g.options.Samples < 1 || g.options.SampleRate <= 0 {
		return fmt.Errorf("%w: channels, samples and sample rate must be positive", ErrInvalidOptions)
	}
	return nil
}

// CreatePorts implements graph.Processor.
func (g *Generator) CreatePorts(n *graph.Node) error {
	var err error
	g.out, err = graph.CreateOutputPort(n, "data", payload.NewMultiChannel,
		payload.MultiChannelCapabilities{
			Channels: payload.Range{Min: g.options.Channels, Max: g.options.Channels},
			Samples:  payload.Range{Min: g.options.Samples, Max: g.options.Samples},
		},
		payload.MultiChannelParameters{
			Channels:   g.options.Channels,
			Samples:    g.options.Samples,
			SampleRate: g.options.SampleRate,
		},
		stream.DefaultOutputPolicy(),
	)
	if err != nil {
		return err
	}
	g.amplitude, err = graph.CreateState(n, "amplitude", g.options.Amplitude,
		shared.Permissions{Self: shared.Read, Peers: shared.Write, External: shared.Write},
		"amplitude of generated signal")
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (g *Generator) CompleteStreamInfo(*graph.Node) error {
	for _, s := range g.out.Slots() {
		s.StreamInfo().SetRate(g.options.SampleRate / float64(g.options.Samples))
	}
	return nil
}

// Preprocess implements graph.Preprocessor.
func (g *Generator) Preprocess(*graph.ProcessingContext) error {
	g.position, g.buffers = 0, 0
	g.startedAt = time.Now()
	return nil
}

// Process implements graph.Processor.
func (g *Generator) Process(ctx *graph.ProcessingContext) error {
	if g.options.Limit > 0 && g.buffers >= g.options.Limit {
		return graph.ErrEndOfStream
	}
	if g.options.Realtime {
		due := g.startedAt.Add(signal.DurationOf(g.options.SampleRate, g.position))
		time.Sleep(time.Until(due))
	}
	amplitude := g.amplitude.Get()
	now := time.Now()
	for _, s := range g.out.Slots() {
		d, ok := s.Claim(false)
		if !ok {
			return nil
		}
		signal.Float64(d.Data).Sine(g.position, g.options.SampleRate, g.options.Frequency, amplitude, g.options.Offset)
		for i := range d.Timestamps {
			d.Timestamps[i] = uint64(g.position) + uint64(i)
		}
		d.Source = now
		d.Hardware = uint64(g.position)
		s.Publish()
	}
	g.position += int64(g.options.Samples)
	g.buffers++
	return nil
}
