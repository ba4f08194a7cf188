package processors

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/signal"
	"github.com/dudk/falcon/stream"
)

// WavSource reads multichannel stream from WAV file. Run source, if
// provided, replaces the file: directory source is searched for a file
// with the same name. Every run source must have the same format as the
// file read at build.
type WavSource struct {
	options struct {
		Path     string `yaml:"path"`
		Samples  int    `yaml:"samples"`
		Realtime bool   `yaml:"realtime"`
	}
	format wavFormat
	out    *stream.PortOut[*payload.MultiChannel]

	file      *os.File
	decoder   *wav.Decoder
	buffer    *audio.IntBuffer
	position  int64
	startedAt time.Time
}

type wavFormat struct {
	channels   int
	sampleRate int
	bitDepth   signal.BitDepth
}

// Configure implements graph.Configurer.
func (s *WavSource) Configure(options *yaml.Node) error {
	s.options.Samples = 512
	if err := graph.DecodeOptions(options, &s.options); err != nil {
		return err
	}
	if s.options.Path == "" || s.options.Samples < 1 {
		return fmt.Errorf("%w: path and positive samples are required", ErrInvalidOptions)
	}
	f, d, err := openWav(s.options.Path)
	if err != nil {
		return err
	}
	s.format = formatOf(d)
	return f.Close()
}

// openWav opens the file and validates its header.
func openWav(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is not a valid wav file", ErrInvalidOptions, path)
	}
	if bd := signal.BitDepth(d.BitDepth); bd != signal.BitDepth16 && bd != signal.BitDepth32 {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s: only 16 and 32 bit depth is supported", ErrInvalidOptions, path)
	}
	return f, d, nil
}

func formatOf(d *wav.Decoder) wavFormat {
	return wavFormat{
		channels:   int(d.NumChans),
		sampleRate: int(d.SampleRate),
		bitDepth:   signal.BitDepth(d.BitDepth),
	}
}

// CreatePorts implements graph.Processor.
func (s *WavSource) CreatePorts(n *graph.Node) error {
	var err error
	s.out, err = graph.CreateOutputPort(n, "data", payload.NewMultiChannel,
		payload.MultiChannelCapabilities{
			Channels: payload.Range{Min: s.format.channels, Max: s.format.channels},
			Samples:  payload.Range{Min: s.options.Samples, Max: s.options.Samples},
		},
		payload.MultiChannelParameters{
			Channels:   s.format.channels,
			Samples:    s.options.Samples,
			SampleRate: float64(s.format.sampleRate),
		},
		stream.DefaultOutputPolicy(),
	)
	return err
}

// CompleteStreamInfo implements graph.StreamCompleter.
func (s *WavSource) CompleteStreamInfo(*graph.Node) error {
	for _, slot := range s.out.Slots() {
		slot.StreamInfo().SetRate(float64(s.format.sampleRate) / float64(s.options.Samples))
	}
	return nil
}

// Preprocess implements graph.Preprocessor.
func (s *WavSource) Preprocess(ctx *graph.ProcessingContext) error {
	path, err := s.resolve(ctx.Run().Options().Source)
	if err != nil {
		return err
	}
	f, d, err := openWav(path)
	if err != nil {
		return err
	}
	if format := formatOf(d); format != s.format {
		f.Close()
		return fmt.Errorf("%w: %s has %d channels at %d Hz, expected %d channels at %d Hz",
			stream.ErrInvalidParameters, path, format.channels, format.sampleRate, s.format.channels, s.format.sampleRate)
	}
	s.file, s.decoder = f, d
	s.buffer = &audio.IntBuffer{
		Format:         d.Format(),
		Data:           make([]int, s.options.Samples*s.format.channels),
		SourceBitDepth: int(d.BitDepth),
	}
	s.position = 0
	s.startedAt = time.Now()
	ctx.Logger().WithField("path", path).Debug("reading")
	return nil
}

// resolve returns path of the file to play.
func (s *WavSource) resolve(source string) (string, error) {
	if source == "" {
		return s.options.Path, nil
	}
	fi, err := os.Stat(source)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return filepath.Join(source, filepath.Base(s.options.Path)), nil
	}
	return source, nil
}

// Process implements graph.Processor.
func (s *WavSource) Process(*graph.ProcessingContext) error {
	n, err := s.decoder.PCMBuffer(s.buffer)
	if err != nil {
		return err
	}
	if n == 0 {
		return graph.ErrEndOfStream
	}
	if s.options.Realtime {
		due := s.startedAt.Add(signal.DurationOf(float64(s.format.sampleRate), s.position))
		time.Sleep(time.Until(due))
	}
	ints := signal.InterInt{Data: s.buffer.Data[:n], NumChannels: s.format.channels, BitDepth: s.format.bitDepth}
	now := time.Now()
	var read int
	for _, slot := range s.out.Slots() {
		d, ok := slot.Claim(false)
		if !ok {
			return nil
		}
		read = ints.CopyToFloat64(d.Data)
		for i := range d.Timestamps {
			d.Timestamps[i] = uint64(s.position) + uint64(i)
		}
		d.Source = now
		d.Hardware = uint64(s.position)
		slot.Publish()
	}
	s.position += int64(read)
	return nil
}

// Postprocess implements graph.Postprocessor.
func (s *WavSource) Postprocess(*graph.ProcessingContext) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.decoder = nil, nil
	return err
}
