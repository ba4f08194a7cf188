// Package state implements the lifecycle of the processor graph. All
// lifecycle events are handled sequentially by a single goroutine.
package state

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

var (
	// ErrInvalidState is returned if graph method cannot be executed at
	// this moment.
	ErrInvalidState = errors.New("invalid state")
	// ErrClosed is returned when event is sent to closed handle.
	ErrClosed = errors.New("handle is closed")

	// errPending means that feedback is replied after transition.
	errPending = errors.New("feedback is pending")
)

// Status is reported by the handle at any moment, including transitions.
type Status int32

// Statuses of the graph.
const (
	NoGraph Status = iota
	Constructing
	Preparing
	Ready
	Starting
	Processing
	Stopping
)

func (s Status) String() string {
	switch s {
	case NoGraph:
		return "NOGRAPH"
	case Constructing:
		return "CONSTRUCTING"
	case Preparing:
		return "PREPARING"
	case Ready:
		return "READY"
	case Starting:
		return "STARTING"
	case Processing:
		return "PROCESSING"
	case Stopping:
		return "STOPPING"
	}
	return "UNKNOWN"
}

// BuildFunc constructs the graph from definition.
type BuildFunc func(definition interface{}) error

// PrepareFunc calls one-time preparation of the constructed graph.
type PrepareFunc func() error

// DestroyFunc releases the graph.
type DestroyFunc func() error

// StartFunc starts processing. It returns error channels of all workers,
// every channel is closed when worker is done. Cancel channel is closed
// if stop is requested before start is complete.
type StartFunc func(options interface{}, cancelc <-chan struct{}) ([]<-chan error, error)

// StopFunc requests all workers to stop. Workers are joined by handle.
type StopFunc func()

// Funcs are closures of the graph called by the handle.
type Funcs struct {
	Build   BuildFunc
	Prepare PrepareFunc
	Destroy DestroyFunc
	Start   StartFunc
	Stop    StopFunc
}

// Handle manages the lifecycle of the graph.
type Handle struct {
	// Eventc is used to send events to the state machine. Use Send to
	// avoid blocking on closed handle.
	Eventc chan Event
	// errc fans-in errors of workers.
	// created in start event, closed when all workers are done.
	merger
	fns    Funcs
	status atomic.Int32
	run    atomic.Pointer[Run]
	// timeout of the current run, nil if not set.
	timeout <-chan time.Time
	timer   *time.Timer
	// startup is in progress, nil if not starting.
	startup *startup
	donec   chan struct{}
}

// startup holds the start that runs outside of the loop. Feedback of
// start event and stop events received while starting are replied
// when start is complete.
type startup struct {
	feedback Feedback
	timeout  time.Duration
	cancelc  chan struct{}
	resultc  chan startResult
	stops    []Feedback
	closes   []Feedback
}

type startResult struct {
	errcList []<-chan error
	err      error
}

func (s *startup) cancel() {
	if s.cancelled() {
		return
	}
	close(s.cancelc)
}

func (s *startup) cancelled() bool {
	select {
	case <-s.cancelc:
		return true
	default:
		return false
	}
}

// merger fans-in error channels.
type merger struct {
	wg   *sync.WaitGroup
	errc chan error
}

// State identifies one of the possible states graph can be in.
type State interface {
	listen(*Handle) State
	transition(*Handle, Event) (State, error)
}

// idleState identifies that the graph is ONLY waiting for user to send an
// event.
type idleState interface {
	State
}

// activeState identifies that the graph is processing and also is
// waiting for user to send an event.
type activeState interface {
	State
}

// states
type (
	noGraph    struct{}
	ready      struct{}
	starting   struct{}
	processing struct{}
)

// states variables
var (
	// NoGraphState means that graph can be built.
	NoGraphState noGraph
	// ReadyState means that graph can be started.
	ReadyState ready
	// StartingState means that graph is starting at the moment.
	StartingState starting
	// ProcessingState means that graph is processing at the moment.
	ProcessingState processing
)

// Run is a single processing run.
type Run struct {
	done chan struct{}
	err  error
}

// Done is closed when run is over.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns error of the run. It must be called after Done is closed.
func (r *Run) Err() error {
	return r.err
}

// Event triggers the state change.
// Use imperative verbs for implementations.
type Event interface {
	Errc() chan error
}

// Feedback is a wrapper for error channels. It's used to give feedback
// about state change or error occurred during that change.
type Feedback chan error

// Errc exposes error channel and used to satisfy Event interface.
func (f Feedback) Errc() chan error {
	return f
}

// Build event is sent to construct the graph.
type Build struct {
	Definition interface{}
	Feedback
}

// Destroy event is sent to release the graph.
type Destroy struct {
	Feedback
}

// Start event is sent to start processing. Run is stopped after timeout
// if it's positive.
type Start struct {
	Options interface{}
	Timeout time.Duration
	Feedback
}

// Stop event is sent to stop processing.
type Stop struct {
	Feedback
}

// Exec event is sent to execute a function while graph is built. It's
// used by control operations which must not interleave with lifecycle
// changes.
type Exec struct {
	Fn func(Status) error
	Feedback
}

// Close event is sent to close the handle. Graph is stopped and
// destroyed.
type Close struct {
	Feedback
}

// NewHandle returns new initialized handle that can be used to manage
// lifecycle.
func NewHandle(fns Funcs) *Handle {
	return &Handle{
		Eventc: make(chan Event, 1),
		fns:    fns,
		donec:  make(chan struct{}),
	}
}

// Loop listens until nil state is returned.
func Loop(h *Handle, s State) {
	for s != nil {
		s = s.listen(h)
	}
	close(h.donec)
}

// Send delivers event to the loop and waits for the feedback. ErrClosed
// is returned if the loop is over before event is handled.
func (h *Handle) Send(e Event) error {
	select {
	case <-h.donec:
		return ErrClosed
	default:
	}
	select {
	case h.Eventc <- e:
	case <-h.donec:
		return ErrClosed
	}
	if e.Errc() == nil {
		return nil
	}
	select {
	case err := <-e.Errc():
		return err
	case <-h.donec:
		// loop could reply right before it's over.
		select {
		case err := <-e.Errc():
			return err
		default:
			return ErrClosed
		}
	}
}

// Status returns current status.
func (h *Handle) Status() Status {
	return Status(h.status.Load())
}

// Run returns the current or the last run. Nil is returned if graph was
// never started.
func (h *Handle) Run() *Run {
	return h.run.Load()
}

// Done is closed when loop is over.
func (h *Handle) Done() <-chan struct{} {
	return h.donec
}

func (h *Handle) set(s Status) {
	h.status.Store(int32(s))
}

// idle is used to listen to handle's channels which are relevant for
// idle state.
func (h *Handle) idle(s idleState) State {
	for {
		e := <-h.Eventc
		newState, err := s.transition(h, e)
		reply(e.Errc(), err)
		if newState != State(s) {
			return newState
		}
	}
}

// active is used to listen to handle's channels which are relevant for
// active state.
func (h *Handle) active(s activeState) State {
	for {
		select {
		case e := <-h.Eventc:
			newState, err := s.transition(h, e)
			reply(e.Errc(), err)
			if newState != State(s) {
				return newState
			}
		case err := <-h.errc:
			// worker failed or all workers are done, the whole graph is
			// stopped.
			h.finish(err)
			return ReadyState
		case <-h.timeout:
			h.finish(nil)
			return ReadyState
		}
	}
}

// finish stops workers, joins them and completes the run.
func (h *Handle) finish(err error) error {
	h.set(Stopping)
	if h.timer != nil {
		h.timer.Stop()
		h.timer, h.timeout = nil, nil
	}
	h.fns.Stop()
	err = multierr.Append(err, h.wait())
	r := h.run.Load()
	r.err = err
	h.set(Ready)
	close(r.done)
	return err
}

func (h *Handle) wait() error {
	var err error
	for e := range h.merger.errc {
		err = multierr.Append(err, e)
	}
	return err
}

func (h *Handle) destroy() error {
	err := h.fns.Destroy()
	h.set(NoGraph)
	return err
}

func (s noGraph) listen(h *Handle) State {
	h.set(NoGraph)
	return h.idle(s)
}

func (s noGraph) transition(h *Handle, e Event) (State, error) {
	switch ev := e.(type) {
	case Close:
		return nil, nil
	case Build:
		h.set(Constructing)
		if err := h.fns.Build(ev.Definition); err != nil {
			return s, multierr.Append(err, h.destroy())
		}
		h.set(Preparing)
		if err := h.fns.Prepare(); err != nil {
			return s, multierr.Append(err, h.destroy())
		}
		return ReadyState, nil
	}
	return s, ErrInvalidState
}

func (s ready) listen(h *Handle) State {
	h.set(Ready)
	return h.idle(s)
}

func (s ready) transition(h *Handle, e Event) (State, error) {
	switch ev := e.(type) {
	case Close:
		return nil, h.destroy()
	case Destroy:
		return NoGraphState, h.destroy()
	case Exec:
		return s, ev.Fn(Ready)
	case Start:
		h.set(Starting)
		su := &startup{
			feedback: ev.Feedback,
			timeout:  ev.Timeout,
			cancelc:  make(chan struct{}),
			resultc:  make(chan startResult, 1),
		}
		h.startup = su
		go func() {
			errcList, err := h.fns.Start(ev.Options, su.cancelc)
			su.resultc <- startResult{errcList: errcList, err: err}
		}()
		return StartingState, errPending
	}
	return s, ErrInvalidState
}

func (s starting) listen(h *Handle) State {
	h.set(Starting)
	for {
		select {
		case e := <-h.Eventc:
			_, err := s.transition(h, e)
			reply(e.Errc(), err)
		case r := <-h.startup.resultc:
			return h.started(r)
		}
	}
}

func (s starting) transition(h *Handle, e Event) (State, error) {
	switch ev := e.(type) {
	case Close:
		h.startup.cancel()
		h.startup.closes = append(h.startup.closes, ev.Feedback)
		return s, errPending
	case Stop:
		h.startup.cancel()
		h.startup.stops = append(h.startup.stops, ev.Feedback)
		return s, errPending
	case Exec:
		return s, ev.Fn(Starting)
	}
	return s, ErrInvalidState
}

// started completes the start and replies to the events deferred while
// starting.
func (h *Handle) started(r startResult) State {
	su := h.startup
	h.startup = nil
	if r.err != nil {
		h.set(Ready)
		reply(su.feedback, r.err)
		for _, f := range su.stops {
			reply(f, nil)
		}
		if len(su.closes) > 0 {
			err := h.destroy()
			for _, f := range su.closes {
				reply(f, err)
			}
			return nil
		}
		return ReadyState
	}

	h.merger = mergeErrors(r.errcList)
	h.run.Store(&Run{done: make(chan struct{})})
	if su.cancelled() {
		reply(su.feedback, nil)
		err := h.finish(nil)
		for _, f := range su.stops {
			reply(f, err)
		}
		if len(su.closes) > 0 {
			err = multierr.Append(err, h.destroy())
			for _, f := range su.closes {
				reply(f, err)
			}
			return nil
		}
		return ReadyState
	}
	if su.timeout > 0 {
		h.timer = time.NewTimer(su.timeout)
		h.timeout = h.timer.C
	}
	h.set(Processing)
	reply(su.feedback, nil)
	return ProcessingState
}

func (s processing) listen(h *Handle) State {
	h.set(Processing)
	return h.active(s)
}

func (s processing) transition(h *Handle, e Event) (State, error) {
	switch ev := e.(type) {
	case Close:
		return nil, multierr.Append(h.finish(nil), h.destroy())
	case Stop:
		return ReadyState, h.finish(nil)
	case Exec:
		return s, ev.Fn(Processing)
	}
	return s, ErrInvalidState
}

// reply pushes error into feedback and closes it. Pending feedback is
// replied later.
func reply(f Feedback, err error) {
	if f == nil || err == errPending {
		return
	}
	if err != nil {
		f <- err
	}
	close(f)
}

// merge error channels from all components into one.
func mergeErrors(errcList []<-chan error) merger {
	m := merger{
		wg:   &sync.WaitGroup{},
		errc: make(chan error, len(errcList)),
	}

	//function to wait for error channel
	m.wg.Add(len(errcList))
	for _, ec := range errcList {
		go m.done(ec)
	}

	//wait and close out
	go func() {
		m.wg.Wait()
		close(m.errc)
	}()
	return m
}

func (m merger) done(ec <-chan error) {
	for err := range ec {
		if err != nil {
			m.errc <- err
		}
	}
	m.wg.Done()
}
