// Package graph owns processors, connections between them and shared
// states. It drives the lifecycle of the graph: build, prepare, run and
// stop with a thread per processor.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dudk/falcon/internal/state"
	"github.com/dudk/falcon/log"
	"github.com/dudk/falcon/metric"
	"github.com/dudk/falcon/ring"
	"github.com/dudk/falcon/rule"
	"github.com/dudk/falcon/shared"
)

// Status of the graph.
type Status = state.Status

// Graph statuses.
const (
	NoGraph      = state.NoGraph
	Constructing = state.Constructing
	Preparing    = state.Preparing
	Ready        = state.Ready
	Starting     = state.Starting
	Processing   = state.Processing
	Stopping     = state.Stopping
)

var (
	// ErrInvalidState is returned if graph method cannot be executed at
	// this moment.
	ErrInvalidState = state.ErrInvalidState
	// ErrClosed is returned when graph is closed.
	ErrClosed = state.ErrClosed
)

// DefaultDocumentationPath is a directory of processor documentation.
const DefaultDocumentationPath = "docs/processors"

// Graph is a set of connected processors.
type Graph struct {
	registry     *Registry
	log          logrus.FieldLogger
	metric       *metric.Metric
	bufferSize   int
	waitStrategy string
	docPath      string

	handle *state.Handle

	// guards graph structure, it's changed only by lifecycle loop.
	mu          sync.RWMutex
	nodes       []*Node
	index       map[string]*Node
	connections []rule.Connection
	aliases     []*shared.Alias
	def         *Definition

	// current run, accessed only by lifecycle loop.
	run *RunContext
}

// Option provides a way to set functional parameters to graph.
type Option func(*Graph) error

// WithLogger sets logger of the graph.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Graph) error {
		g.log = l
		return nil
	}
}

// WithMetric sets metric to measure processors.
func WithMetric(m *metric.Metric) Option {
	return func(g *Graph) error {
		g.metric = m
		return nil
	}
}

// WithBufferSize sets ring size of all output ports. Processor advanced
// settings take precedence.
func WithBufferSize(n int) Option {
	return func(g *Graph) error {
		if n <= 0 {
			return fmt.Errorf("invalid buffer size: %d", n)
		}
		g.bufferSize = n
		return nil
	}
}

// WithWaitStrategy sets wait strategy of all output ports. Processor
// advanced settings take precedence.
func WithWaitStrategy(name string) Option {
	return func(g *Graph) error {
		if _, err := ring.ParseWaitStrategy(name); err != nil {
			return err
		}
		g.waitStrategy = name
		return nil
	}
}

// WithDocumentationPath sets directory of processor documentation.
func WithDocumentationPath(path string) Option {
	return func(g *Graph) error {
		g.docPath = path
		return nil
	}
}

// New returns a new graph without processors. Close must be called to
// release it.
func New(r *Registry, options ...Option) (*Graph, error) {
	g := &Graph{
		registry: r,
		log:      log.Silent(),
		metric:   metric.New(),
		docPath:  DefaultDocumentationPath,
		index:    make(map[string]*Node),
	}
	for _, option := range options {
		if err := option(g); err != nil {
			return nil, err
		}
	}
	g.handle = state.NewHandle(state.Funcs{
		Build:   g.build,
		Prepare: g.prepare,
		Destroy: g.destroy,
		Start:   g.start,
		Stop:    g.stop,
	})
	go state.Loop(g.handle, state.NoGraphState)
	return g, nil
}

// Build constructs the graph from definition. Graph is destroyed if any
// step fails.
func (g *Graph) Build(def *Definition) error {
	return g.handle.Send(state.Build{Definition: def, Feedback: make(state.Feedback)})
}

// Destroy releases all processors.
func (g *Graph) Destroy() error {
	return g.handle.Send(state.Destroy{Feedback: make(state.Feedback)})
}

// Start starts processing. It returns when every processor is running.
func (g *Graph) Start(opts RunOptions) error {
	return g.handle.Send(state.Start{Options: opts, Timeout: opts.Timeout, Feedback: make(state.Feedback)})
}

// Stop stops processing and waits for all processors.
func (g *Graph) Stop() error {
	return runError(g.handle.Send(state.Stop{Feedback: make(state.Feedback)}))
}

// Wait blocks until the current run is over and returns its error. Nil
// is returned if graph was never started.
func (g *Graph) Wait() error {
	r := g.handle.Run()
	if r == nil {
		return nil
	}
	<-r.Done()
	return runError(r.Err())
}

// LastError returns error of the last completed run.
func (g *Graph) LastError() error {
	r := g.handle.Run()
	if r == nil {
		return nil
	}
	select {
	case <-r.Done():
		return runError(r.Err())
	default:
		return nil
	}
}

// Status returns current status of the graph.
func (g *Graph) Status() Status {
	return g.handle.Status()
}

// Close stops and destroys the graph. Graph can't be used after close.
func (g *Graph) Close() error {
	err := g.handle.Send(state.Close{Feedback: make(state.Feedback)})
	<-g.handle.Done()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return runError(err)
}

// Metric returns metric of the graph.
func (g *Graph) Metric() *metric.Metric {
	return g.metric
}

// Registry returns registry of processor classes.
func (g *Graph) Registry() *Registry {
	return g.registry
}

// runError removes end of stream errors.
func runError(err error) error {
	var result error
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, ErrEndOfStream) {
			result = multierr.Append(result, e)
		}
	}
	return result
}
