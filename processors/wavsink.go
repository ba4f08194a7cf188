package processors

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// WavSink writes multichannel stream to "<destination>/<processor>.wav".
// File is created for every run.
type WavSink struct {
	options struct {
		BitDepth int `yaml:"bit_depth"`
	}
	in *stream.PortIn[*payload.MultiChannel]

	params  payload.MultiChannelParameters
	file    *os.File
	encoder *wav.Encoder
	buffer  *audio.IntBuffer
}

// Configure implements graph.Configurer.
func (s *WavSink) Configure(options *yaml.Node) error {
	s.options.BitDepth = 16
	if err := graph.DecodeOptions(options, &s.options); err != nil {
		return err
	}
	if bd := signal.BitDepth(s.options.BitDepth); bd != signal.BitDepth16 && bd != signal.BitDepth32 {
		return fmt.Errorf("%w: only 16 and 32 bit depth is supported", ErrInvalidOptions)
	}
	return nil
}

// CreatePorts implements graph.Processor.
func (s *WavSink) CreatePorts(n *graph.Node) error {
	var err error
	s.in, err = graph.CreateInputPort[*payload.MultiChannel](n, "in", anyMultiChannel, stream.DefaultInputPolicy())
	return err
}

// Prepare implements graph.Preparer.
func (s *WavSink) Prepare(*graph.Node) error {
	p, err := upstreamParameters(s.in.Slot(0))
	if err != nil {
		return err
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %v", stream.ErrInvalidParameters, p.SampleRate)
	}
	s.params = p
	return nil
}

// Preprocess implements graph.Preprocessor.
func (s *WavSink) Preprocess(ctx *graph.ProcessingContext) error {
	dir := ctx.Run().Options().Destination
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, ctx.Node().Name()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	s.file = f
	s.encoder = wav.NewEncoder(f, int(s.params.SampleRate), s.options.BitDepth, s.params.Channels, 1)
	s.buffer = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: s.params.Channels,
			SampleRate:  int(s.params.SampleRate),
		},
		SourceBitDepth: s.options.BitDepth,
	}
	ctx.Logger().WithField("path", path).Debug("recording")
	return nil
}

// Process implements graph.Processor.
func (s *WavSink) Process(*graph.ProcessingContext) error {
	in := s.in.Slot(0)
	n, ok := in.RetrieveAll()
	if !ok {
		return nil
	}
	for i := 0; i < n; i++ {
		s.buffer.Data = signal.Float64(in.At(i).Data).AsInterInt(signal.BitDepth(s.options.BitDepth), s.buffer.Data)
		if err := s.encoder.Write(s.buffer); err != nil {
			return err
		}
	}
	in.Release()
	return nil
}

// Postprocess implements graph.Postprocessor.
func (s *WavSink) Postprocess(*graph.ProcessingContext) error {
	if s.file == nil {
		return nil
	}
	err := multierr.Append(s.encoder.Close(), s.file.Close())
	s.file, s.encoder = nil, nil
	return err
}
