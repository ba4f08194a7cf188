package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// RunOptions configure a processing run.
type RunOptions struct {
	// Group identifies a series of runs.
	Group string
	// Destination is a directory for run artifacts.
	Destination string
	// Source is an input location for processors which read recordings.
	Source string
	// Test marks a trial run.
	Test bool
	// Timeout stops the run automatically if positive.
	Timeout time.Duration
}

// RunContext is shared by all processors of a run.
type RunContext struct {
	id      xid.ID
	options RunOptions

	terminated atomic.Bool
	gostart    chan struct{}
	stopc      chan struct{}
	stopOnce   sync.Once

	mu  sync.Mutex
	err error
}

func newRunContext(opts RunOptions) *RunContext {
	return &RunContext{
		id:      xid.New(),
		options: opts,
		gostart: make(chan struct{}),
		stopc:   make(chan struct{}),
	}
}

// ID returns unique identifier of the run.
func (r *RunContext) ID() string {
	return r.id.String()
}

// Options returns run options.
func (r *RunContext) Options() RunOptions {
	return r.options
}

// Terminated reports if the run is stopping.
func (r *RunContext) Terminated() bool {
	return r.terminated.Load()
}

// Err returns errors of processors recorded in the run.
func (r *RunContext) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *RunContext) addError(err error) {
	r.mu.Lock()
	r.err = multierr.Append(r.err, err)
	r.mu.Unlock()
}

// Stopped is closed when the run is stopping. Processors blocked in
// preprocessing can select on it.
func (r *RunContext) Stopped() <-chan struct{} {
	return r.stopc
}

// terminate sets termination flag and releases processors waiting for
// start. It reports true only for the first call.
func (r *RunContext) terminate() bool {
	first := false
	r.stopOnce.Do(func() {
		first = true
		r.terminated.Store(true)
		close(r.stopc)
	})
	return first
}

// ProcessingContext is passed to processor hooks executed in processor
// thread.
type ProcessingContext struct {
	run  *RunContext
	node *Node
	log  logrus.FieldLogger
}

// Terminated reports if processor must return from Process.
func (c *ProcessingContext) Terminated() bool {
	return c.run.Terminated()
}

// Run returns run context.
func (c *ProcessingContext) Run() *RunContext {
	return c.run
}

// Node returns node of the processor.
func (c *ProcessingContext) Node() *Node {
	return c.node
}

// Logger returns processor logger with run field.
func (c *ProcessingContext) Logger() logrus.FieldLogger {
	return c.log
}
