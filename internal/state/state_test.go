package state_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/falcon/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// graphMock simulates workers which run until stopped.
type graphMock struct {
	sync.Mutex
	buildErr   error
	prepareErr error
	startErr   error
	// blocking start waits until it's cancelled.
	blocking  bool
	startedc  chan struct{}
	destroyed int
	stopc     chan struct{}
	errcList  []chan error
}

func (m *graphMock) funcs() state.Funcs {
	return state.Funcs{
		Build: func(interface{}) error {
			return m.buildErr
		},
		Prepare: func() error {
			return m.prepareErr
		},
		Destroy: func() error {
			m.Lock()
			defer m.Unlock()
			m.destroyed++
			return nil
		},
		Start: func(_ interface{}, cancelc <-chan struct{}) ([]<-chan error, error) {
			if m.blocking {
				close(m.startedc)
				<-cancelc
			}
			if m.startErr != nil {
				return nil, m.startErr
			}
			m.stopc = make(chan struct{})
			m.errcList = []chan error{make(chan error, 1), make(chan error, 1)}
			result := make([]<-chan error, 0, len(m.errcList))
			for _, errc := range m.errcList {
				go func(errc chan error) {
					<-m.stopc
					close(errc)
				}(errc)
				result = append(result, errc)
			}
			return result, nil
		},
		Stop: func() {
			close(m.stopc)
		},
	}
}

func send(h *state.Handle, e state.Event) error {
	return h.Send(e)
}

func TestStates(t *testing.T) {
	cases := []struct {
		preparation []state.Event
		events      []state.Event
		status      state.Status
	}{
		{
			// NoGraph state
			events: []state.Event{
				state.Start{Feedback: make(chan error)},
				state.Stop{Feedback: make(chan error)},
				state.Destroy{Feedback: make(chan error)},
				state.Exec{Fn: func(state.Status) error { return nil }, Feedback: make(chan error)},
			},
			status: state.NoGraph,
		},
		{
			// Ready state
			preparation: []state.Event{
				state.Build{Feedback: make(chan error)},
			},
			events: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Stop{Feedback: make(chan error)},
			},
			status: state.Ready,
		},
		{
			// Processing state
			preparation: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Start{Feedback: make(chan error)},
			},
			events: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Start{Feedback: make(chan error)},
				state.Destroy{Feedback: make(chan error)},
			},
			status: state.Processing,
		},
		{
			// Ready state after stop
			preparation: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Start{Feedback: make(chan error)},
				state.Stop{Feedback: make(chan error)},
			},
			events: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Stop{Feedback: make(chan error)},
			},
			status: state.Ready,
		},
		{
			// NoGraph state after destroy
			preparation: []state.Event{
				state.Build{Feedback: make(chan error)},
				state.Destroy{Feedback: make(chan error)},
			},
			events: []state.Event{
				state.Start{Feedback: make(chan error)},
			},
			status: state.NoGraph,
		},
	}

	for _, c := range cases {
		m := &graphMock{}
		h := state.NewHandle(m.funcs())
		go state.Loop(h, state.NoGraphState)

		// reach tested state
		for _, e := range c.preparation {
			require.NoError(t, send(h, e))
		}
		assert.Equal(t, c.status, h.Status())

		// test events
		for _, e := range c.events {
			assert.Equal(t, state.ErrInvalidState, send(h, e))
		}
		assert.Equal(t, c.status, h.Status())

		assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
		<-h.Done()
		assert.Equal(t, state.ErrClosed, send(h, state.Build{Feedback: make(chan error)}))
	}
}

func TestSendClosed(t *testing.T) {
	for i := 0; i < 100; i++ {
		h := state.NewHandle((&graphMock{}).funcs())
		go state.Loop(h, state.NoGraphState)
		require.NoError(t, send(h, state.Close{Feedback: make(chan error)}))

		errc := make(chan error, 1)
		go func() {
			errc <- send(h, state.Destroy{Feedback: make(chan error)})
		}()
		select {
		case err := <-errc:
			assert.Equal(t, state.ErrClosed, err)
		case <-time.After(time.Second):
			t.Fatal("send to closed handle is blocked")
		}
	}
}

func TestCancelStart(t *testing.T) {
	startErr := errors.New("start failed")
	cases := []struct {
		name      string
		startErr  error
		close     bool
		status    state.Status
		destroyed int
	}{
		{
			name:   "stop",
			status: state.Ready,
		},
		{
			name:     "stop failed start",
			startErr: startErr,
			status:   state.Ready,
		},
		{
			name:      "close",
			close:     true,
			status:    state.NoGraph,
			destroyed: 1,
		},
		{
			name:      "close failed start",
			startErr:  startErr,
			close:     true,
			status:    state.NoGraph,
			destroyed: 1,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := &graphMock{
				startErr: c.startErr,
				blocking: true,
				startedc: make(chan struct{}),
			}
			h := state.NewHandle(m.funcs())
			go state.Loop(h, state.NoGraphState)
			require.NoError(t, send(h, state.Build{Feedback: make(chan error)}))

			startc := make(chan error, 1)
			go func() {
				startc <- send(h, state.Start{Feedback: make(chan error)})
			}()
			<-m.startedc
			assert.Equal(t, state.Starting, h.Status())
			// control operations are allowed while starting.
			assert.NoError(t, send(h, state.Exec{
				Fn: func(s state.Status) error {
					assert.Equal(t, state.Starting, s)
					return nil
				},
				Feedback: make(chan error),
			}))
			assert.Equal(t, state.ErrInvalidState, send(h, state.Build{Feedback: make(chan error)}))

			if c.close {
				assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
				<-h.Done()
			} else {
				assert.NoError(t, send(h, state.Stop{Feedback: make(chan error)}))
			}
			assert.Equal(t, c.startErr, <-startc)
			assert.Equal(t, c.status, h.Status())
			assert.Equal(t, c.destroyed, m.destroyed)
			if c.startErr == nil {
				run := h.Run()
				require.NotNil(t, run)
				<-run.Done()
				assert.NoError(t, run.Err())
			}
			if !c.close {
				assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
			}
		})
	}
}

func TestBuildRollback(t *testing.T) {
	buildErr := errors.New("build failed")
	prepareErr := errors.New("prepare failed")
	for _, m := range []*graphMock{{buildErr: buildErr}, {prepareErr: prepareErr}} {
		h := state.NewHandle(m.funcs())
		go state.Loop(h, state.NoGraphState)

		err := send(h, state.Build{Feedback: make(chan error)})
		assert.Error(t, err)
		assert.Equal(t, state.NoGraph, h.Status())
		assert.Equal(t, 1, m.destroyed)
		assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
	}
}

func TestStartError(t *testing.T) {
	startErr := errors.New("start failed")
	m := &graphMock{startErr: startErr}
	h := state.NewHandle(m.funcs())
	go state.Loop(h, state.NoGraphState)

	require.NoError(t, send(h, state.Build{Feedback: make(chan error)}))
	assert.Equal(t, startErr, send(h, state.Start{Feedback: make(chan error)}))
	assert.Equal(t, state.Ready, h.Status())
	assert.Nil(t, h.Run())
	assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
	assert.Equal(t, 1, m.destroyed)
}

func TestWorkerError(t *testing.T) {
	workerErr := errors.New("worker failed")
	m := &graphMock{}
	h := state.NewHandle(m.funcs())
	go state.Loop(h, state.NoGraphState)

	require.NoError(t, send(h, state.Build{Feedback: make(chan error)}))
	require.NoError(t, send(h, state.Start{Feedback: make(chan error)}))
	m.errcList[0] <- workerErr

	run := h.Run()
	<-run.Done()
	assert.ErrorIs(t, run.Err(), workerErr)
	assert.Equal(t, state.Ready, h.Status())

	// graph can be started again.
	require.NoError(t, send(h, state.Start{Feedback: make(chan error)}))
	assert.NotSame(t, run, h.Run())
	require.NoError(t, send(h, state.Stop{Feedback: make(chan error)}))
	assert.NoError(t, h.Run().Err())
	assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
}

func TestTimeout(t *testing.T) {
	m := &graphMock{}
	h := state.NewHandle(m.funcs())
	go state.Loop(h, state.NoGraphState)

	require.NoError(t, send(h, state.Build{Feedback: make(chan error)}))
	require.NoError(t, send(h, state.Start{Timeout: 10 * time.Millisecond, Feedback: make(chan error)}))
	<-h.Run().Done()
	assert.NoError(t, h.Run().Err())
	assert.Equal(t, state.Ready, h.Status())
	assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
}

func TestExec(t *testing.T) {
	m := &graphMock{}
	h := state.NewHandle(m.funcs())
	go state.Loop(h, state.NoGraphState)
	require.NoError(t, send(h, state.Build{Feedback: make(chan error)}))

	var statuses []state.Status
	exec := state.Exec{
		Fn: func(s state.Status) error {
			statuses = append(statuses, s)
			return nil
		},
	}
	exec.Feedback = make(chan error)
	require.NoError(t, send(h, exec))
	require.NoError(t, send(h, state.Start{Feedback: make(chan error)}))
	exec.Feedback = make(chan error)
	require.NoError(t, send(h, exec))
	assert.Equal(t, []state.Status{state.Ready, state.Processing}, statuses)

	// closing processing graph stops and destroys it.
	assert.NoError(t, send(h, state.Close{Feedback: make(chan error)}))
	assert.Equal(t, 1, m.destroyed)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NOGRAPH", state.NoGraph.String())
	assert.Equal(t, "PROCESSING", state.Processing.String())
	assert.Equal(t, "UNKNOWN", state.Status(100).String())
}
