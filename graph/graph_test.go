package graph_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/mock"
	"github.com/dudk/falcon/rule"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errTest = errors.New("test error")

const chain = `
processors:
  source:
    class: mock-source
    options:
      ignored: true
  relay:
    class: mock-relay
    advanced:
      buffer_size: 16
      wait_strategy: sleep
  sink:
    class: mock-sink
connections:
  - source.data = relay.in
  - relay.out = sink.in
`

func newGraph(t *testing.T, source *mock.Source, relay *mock.Relay, sink *mock.Sink, options ...graph.Option) (*graph.Graph, *mock.Instances) {
	t.Helper()
	r, inst := mock.Registry(source, relay, sink)
	g, err := graph.New(r, options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, g.Close())
	})
	return g, inst
}

func build(t *testing.T, g *graph.Graph, doc string) error {
	t.Helper()
	def, err := graph.ParseDefinition([]byte(doc))
	require.NoError(t, err)
	return g.Build(def)
}

func TestBuild(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Channels: 2, Samples: 4, Rate: 100}, nil, nil)
	require.NoError(t, build(t, g, chain))
	assert.Equal(t, graph.Ready, g.Status())

	procs := g.Processors()
	require.Len(t, procs, 3)
	assert.Equal(t, "source", procs[0].Name)
	assert.Equal(t, "mock-source", procs[0].Class)
	assert.Equal(t, []graph.PortInfo{{Name: "data", Type: "*payload.MultiChannel", Slots: 1}}, procs[0].Outputs)
	require.Len(t, procs[1].States, 1)
	assert.Equal(t, "gain", procs[1].States[0].Name)
	assert.Equal(t, "1", procs[1].States[0].Value)

	assert.Equal(t, []rule.Connection{
		{
			Out: rule.SlotAddress{Processor: "source", Port: "data", Slot: 0},
			In:  rule.SlotAddress{Processor: "relay", Port: "in", Slot: 0},
		},
		{
			Out: rule.SlotAddress{Processor: "relay", Port: "out", Slot: 0},
			In:  rule.SlotAddress{Processor: "sink", Port: "in", Slot: 0},
		},
	}, g.Connections())

	for _, s := range inst.Sources() {
		assert.True(t, s.Prepared)
	}
	assert.ErrorIs(t, build(t, g, chain), graph.ErrInvalidState)

	require.NoError(t, g.Destroy())
	assert.Equal(t, graph.NoGraph, g.Status())
	assert.Empty(t, g.Processors())
	assert.Empty(t, g.Connections())
	for _, r := range inst.Relays() {
		assert.True(t, r.Unprepared)
	}
}

func TestBuildRollback(t *testing.T) {
	g, inst := newGraph(t, nil, nil, &mock.Sink{Slots: 6})
	err := build(t, g, `
processors:
  source(1-6):
    class: mock-source
  sink:
    class: mock-sink
connections:
  - source1.data = sink.in
  - source2.data = sink.in
  - source3.data = sink.in
  - source4.data = sink.in
  - source5.data = nowhere.in
  - source6.data = sink.in
`)
	var connErr *graph.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, graph.ErrUnknownProcessor)
	assert.Equal(t, "source5", connErr.Out.Processor)
	assert.Equal(t, "source5.data = nowhere.in", connErr.Rule)

	assert.Equal(t, graph.NoGraph, g.Status())
	assert.Empty(t, g.Processors())
	assert.Empty(t, g.Connections())
	assert.Len(t, inst.Sources(), 6)
	for _, s := range inst.Sources() {
		assert.False(t, s.Prepared)
	}

	// graph can be built after rollback.
	require.NoError(t, build(t, g, chain))
	assert.Equal(t, graph.Ready, g.Status())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		description string
		doc         string
		sink        *mock.Sink
		source      *mock.Source
		expected    error
	}{
		{
			description: "unknown class",
			doc: `
processors:
  source:
    class: unknown`,
			expected: graph.ErrUnknownClass,
		},
		{
			description: "duplicate processor",
			doc: `
processors:
  source(1-2):
    class: mock-source
  source2:
    class: mock-source`,
			expected: graph.ErrDuplicateProcessor,
		},
		{
			description: "unknown port",
			doc: `
processors:
  source:
    class: mock-source
  sink:
    class: mock-sink
connections:
  - source.samples = sink.in`,
			expected: graph.ErrUnknownPort,
		},
		{
			description: "count mismatch",
			doc: `
processors:
  source(1-2):
    class: mock-source
  sink(1-3):
    class: mock-sink
connections:
  - source(1-2).data = sink(1-3).in`,
			expected: rule.ErrCountMismatch,
		},
		{
			description: "malformed rule",
			doc: `
processors:
  source:
    class: mock-source
connections:
  - source.data`,
			expected: rule.ErrSyntax,
		},
		{
			description: "slot is taken",
			doc: `
processors:
  source(1-2):
    class: mock-source
  sink:
    class: mock-sink
connections:
  - source1.data = sink.in.0
  - source2.data = sink.in.0`,
			sink:     &mock.Sink{Slots: 2},
			expected: stream.ErrSlotTaken,
		},
		{
			description: "slot out of range",
			doc: `
processors:
  source(1-2):
    class: mock-source
  sink:
    class: mock-sink
connections:
  - source(1-2).data = sink.in`,
			expected: stream.ErrSlotRange,
		},
		{
			description: "not connected input",
			doc: `
processors:
  source:
    class: mock-source
  sink:
    class: mock-sink`,
			expected: stream.ErrNotConnected,
		},
		{
			description: "cycle",
			doc: `
processors:
  relay(1-2):
    class: mock-relay
connections:
  - relay1.out = relay2.in
  - relay2.out = relay1.in`,
			expected: graph.ErrCycle,
		},
		{
			description: "unknown state",
			doc: `
processors:
  source:
    class: mock-source
  relay:
    class: mock-relay
connections:
  - source.data = relay.in
states:
  - [relay.volume]`,
			expected: graph.ErrUnknownState,
		},
		{
			description: "prepare error",
			doc:         chain,
			source:      &mock.Source{Hooks: mock.Hooks{ErrorOnPrepare: errTest}},
			expected:    errTest,
		},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			g, inst := newGraph(t, test.source, nil, test.sink)
			err := build(t, g, test.doc)
			assert.ErrorIs(t, err, test.expected)
			assert.Equal(t, graph.NoGraph, g.Status())
			assert.Empty(t, g.Processors())
			for _, r := range inst.Relays() {
				assert.Equal(t, r.Prepared, r.Unprepared)
			}
		})
	}
}

func TestUnprepareError(t *testing.T) {
	g, _ := newGraph(t, nil, &mock.Relay{Hooks: mock.Hooks{ErrorOnUnprepare: errTest}}, nil)
	require.NoError(t, build(t, g, chain))
	assert.ErrorIs(t, g.Destroy(), errTest)
	assert.Equal(t, graph.NoGraph, g.Status())
	assert.Empty(t, g.Processors())
}

func TestRun(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Value: 0.5, Interval: time.Millisecond}, nil, nil)
	require.NoError(t, build(t, g, chain))
	assert.ErrorIs(t, g.Stop(), graph.ErrInvalidState)

	for run := 1; run <= 2; run++ {
		require.NoError(t, g.Start(graph.RunOptions{Group: "test"}))
		assert.Equal(t, graph.Processing, g.Status())
		assert.ErrorIs(t, g.Destroy(), graph.ErrInvalidState)

		sink := inst.Sinks()[0]
		require.Eventually(t, func() bool {
			return sink.Messages() >= 5
		}, time.Second, time.Millisecond)
		require.NoError(t, g.Stop())
		require.NoError(t, g.Wait())
		assert.Equal(t, graph.Ready, g.Status())

		for _, v := range sink.Samples() {
			assert.Equal(t, 0.5, v)
		}
		for _, r := range inst.Relays() {
			assert.True(t, r.Alerted)
			assert.True(t, r.Postprocessed)
		}
		snapshot, ok := g.Metric().Measure("source")
		require.True(t, ok)
		assert.Equal(t, int64(run), snapshot.Runs)
		assert.Greater(t, snapshot.Calls, int64(0))
	}
}

func TestEndOfStream(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Limit: 10}, nil, nil)
	require.NoError(t, build(t, g, chain))
	require.NoError(t, g.Start(graph.RunOptions{}))
	assert.NoError(t, g.Wait())
	assert.NoError(t, g.LastError())
	assert.Equal(t, 10, inst.Sources()[0].Messages())
	assert.LessOrEqual(t, inst.Sinks()[0].Messages(), 10)
	assert.Equal(t, graph.Ready, g.Status())
}

func TestRendezvous(t *testing.T) {
	g, inst := newGraph(t,
		&mock.Source{Interval: time.Millisecond},
		&mock.Relay{Hooks: mock.Hooks{PreprocessDelay: 50 * time.Millisecond}},
		nil,
	)
	require.NoError(t, build(t, g, chain))
	require.NoError(t, g.Start(graph.RunOptions{}))
	require.Eventually(t, func() bool {
		return inst.Sinks()[0].Messages() > 0
	}, time.Second, time.Millisecond)
	require.NoError(t, g.Stop())

	slowest := inst.Relays()[0].PreprocessedAt
	hooks := []*mock.Hooks{&inst.Sources()[0].Hooks, &inst.Relays()[0].Hooks, &inst.Sinks()[0].Hooks}
	for _, h := range hooks {
		assert.True(t, h.Preprocessed)
		assert.False(t, h.StartedAt.IsZero())
		assert.False(t, h.StartedAt.Before(slowest))
		assert.False(t, h.TerminatedOnStart)
	}
}

func TestFault(t *testing.T) {
	tests := []struct {
		description string
		source      *mock.Source
		relay       *mock.Relay
		expected    error
	}{
		{
			description: "process error",
			relay:       &mock.Relay{ErrorOnCall: errTest},
			expected:    errTest,
		},
		{
			description: "process panic",
			source:      &mock.Source{PanicOnCall: true},
			expected:    graph.ErrPanic,
		},
		{
			description: "postprocess error",
			source:      &mock.Source{Limit: 1},
			relay:       &mock.Relay{Hooks: mock.Hooks{ErrorOnPostprocess: errTest}},
			expected:    errTest,
		},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			g, inst := newGraph(t, test.source, test.relay, nil)
			require.NoError(t, build(t, g, chain))
			require.NoError(t, g.Start(graph.RunOptions{}))
			err := g.Wait()
			assert.ErrorIs(t, err, test.expected)
			assert.ErrorIs(t, g.LastError(), test.expected)
			assert.Equal(t, graph.Ready, g.Status())
			for _, s := range inst.Sinks() {
				assert.True(t, s.Postprocessed)
			}
			// graph can be started again.
			require.NoError(t, g.Start(graph.RunOptions{}))
			assert.Error(t, g.Wait())
		})
	}
}

func TestPreprocessError(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Hooks: mock.Hooks{ErrorOnPreprocess: errTest}}, nil, nil)
	require.NoError(t, build(t, g, chain))
	assert.ErrorIs(t, g.Start(graph.RunOptions{}), errTest)
	assert.Equal(t, graph.Ready, g.Status())
	assert.True(t, inst.Relays()[0].Postprocessed)
	assert.True(t, inst.Relays()[0].StartedAt.IsZero())
	assert.False(t, inst.Sources()[0].Postprocessed)
}

func TestConfigure(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Limit: 100}, nil, nil)
	require.NoError(t, build(t, g, `
processors:
  source:
    class: mock-source
    options:
      limit: 3
      value: 0.5
  sink:
    class: mock-sink
connections:
  - source.data = sink.in
`))
	source := inst.Sources()[0]
	assert.Equal(t, 3, source.Limit)
	assert.Equal(t, 0.5, source.Value)

	out, err := g.Export()
	require.NoError(t, err)
	assert.Contains(t, string(out), "limit: 3")

	require.NoError(t, g.Start(graph.RunOptions{}))
	require.NoError(t, g.Wait())
	assert.Equal(t, 3, source.Messages())
	samples := inst.Sinks()[0].Samples()
	require.NotEmpty(t, samples)
	for _, v := range samples {
		assert.Equal(t, 0.5, v)
	}

	require.NoError(t, g.Destroy())
	err = build(t, g, `
processors:
  source:
    class: mock-source
    options:
      limit: many
  sink:
    class: mock-sink
connections:
  - source.data = sink.in
`)
	assert.Error(t, err)
	assert.Equal(t, graph.NoGraph, g.Status())
}

func TestStopWhileStarting(t *testing.T) {
	for _, closing := range []bool{false, true} {
		g, inst := newGraph(t, nil, &mock.Relay{Hooks: mock.Hooks{PreprocessDelay: time.Minute}}, nil)
		require.NoError(t, build(t, g, chain))

		startc := make(chan error, 1)
		go func() {
			startc <- g.Start(graph.RunOptions{})
		}()
		require.Eventually(t, func() bool {
			return g.Status() == graph.Starting
		}, time.Second, time.Millisecond)

		begin := time.Now()
		if closing {
			assert.NoError(t, g.Close())
			assert.Equal(t, graph.NoGraph, g.Status())
		} else {
			assert.NoError(t, g.Stop())
			assert.Equal(t, graph.Ready, g.Status())
		}
		assert.Less(t, time.Since(begin), 10*time.Second)
		assert.NoError(t, <-startc)
		for _, s := range inst.Sources() {
			assert.True(t, s.StartedAt.IsZero())
			assert.True(t, s.Postprocessed)
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		g, _ := newGraph(t, nil, nil, nil)
		require.NoError(t, g.Close())

		errc := make(chan error, 1)
		go func() {
			errc <- g.Destroy()
		}()
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, graph.ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("destroy of closed graph is blocked")
		}
	}
}

func TestTimeout(t *testing.T) {
	g, _ := newGraph(t, &mock.Source{Interval: time.Millisecond}, nil, nil)
	require.NoError(t, build(t, g, chain))
	require.NoError(t, g.Start(graph.RunOptions{Timeout: 20 * time.Millisecond}))
	assert.NoError(t, g.Wait())
	assert.Equal(t, graph.Ready, g.Status())
}

func TestCloseWhileProcessing(t *testing.T) {
	r, inst := mock.Registry(&mock.Source{Interval: time.Millisecond}, nil, nil)
	g, err := graph.New(r)
	require.NoError(t, err)
	require.NoError(t, build(t, g, chain))
	require.NoError(t, g.Start(graph.RunOptions{}))
	assert.NoError(t, g.Close())
	assert.True(t, inst.Relays()[0].Unprepared)
	assert.ErrorIs(t, g.Start(graph.RunOptions{}), graph.ErrClosed)
}

const sharedStates = `
processors:
  source:
    class: mock-source
  relay(1-3):
    class: mock-relay
  sink:
    class: mock-sink
connections:
  - source.data = relay(1-3).in
  - relay1.out = sink.in
states:
  - [relay(1-2).gain]
  - name: locked
    permission: read
    description: not adjustable
    states:
      - relay3.gain
`

func TestSharedStates(t *testing.T) {
	g, inst := newGraph(t, nil, nil, nil)
	require.NoError(t, build(t, g, sharedStates))

	aliases := g.Aliases()
	require.Len(t, aliases, 2)
	assert.Equal(t, "gain", aliases[0].Name)
	assert.Equal(t, []string{"relay1.gain", "relay2.gain"}, aliases[0].Members)
	assert.Equal(t, "locked", aliases[1].Name)
	assert.Equal(t, shared.Read, aliases[1].Permission)

	require.NoError(t, g.Update([]byte("gain: 2")))
	relays := inst.Relays()
	assert.Equal(t, 2.0, relays[0].Gain().Get())
	assert.Equal(t, 2.0, relays[1].Gain().Get())
	assert.Equal(t, 1.0, relays[2].Gain().Get())

	relays[1].Gain().Set(3)
	out, err := g.Retrieve([]byte("[gain, relay1.gain, locked]"))
	require.NoError(t, err)
	var values map[string]string
	require.NoError(t, yaml.Unmarshal(out, &values))
	assert.Equal(t, map[string]string{"gain": "3", "relay1.gain": "3", "locked": "1"}, values)

	tests := []struct {
		doc      string
		expected error
	}{
		{doc: "locked: 2", expected: shared.ErrPermission},
		{doc: "relay3.gain: 2", expected: shared.ErrPermission},
		{doc: "volume: 2", expected: graph.ErrUnknownState},
		{doc: "relay4.gain: 2", expected: graph.ErrUnknownProcessor},
		{doc: "[gain]", expected: graph.ErrInvalidDefinition},
		{doc: "gain: loud", expected: graph.ErrInvalidDefinition},
	}
	for _, test := range tests {
		assert.ErrorIs(t, g.Update([]byte(test.doc)), test.expected, test.doc)
	}
	// nothing is set if any of states fails.
	assert.Error(t, g.Update([]byte("gain: 5\nlocked: 5")))
	assert.Equal(t, 3.0, relays[0].Gain().Get())
	assert.ErrorIs(t, g.Update([]byte("gain: 5\nrelay2.gain: loud")), graph.ErrInvalidDefinition)
	assert.Equal(t, 3.0, relays[0].Gain().Get())

	require.NoError(t, g.Destroy())
	// states keep the last shared value.
	assert.Equal(t, 3.0, relays[0].Gain().Get())
	assert.False(t, relays[0].Gain().Shared())
	assert.ErrorIs(t, g.Update([]byte("gain: 2")), graph.ErrInvalidState)
}

func TestSharedStatesWhileProcessing(t *testing.T) {
	g, inst := newGraph(t, &mock.Source{Value: 1, Interval: time.Millisecond}, nil, nil)
	require.NoError(t, build(t, g, sharedStates))
	require.NoError(t, g.Start(graph.RunOptions{}))
	require.NoError(t, g.Update([]byte("relay1.gain: 0.25")))
	sink := inst.Sinks()[0]
	require.Eventually(t, func() bool {
		return sink.Messages() > 0
	}, time.Second, time.Millisecond)

	out, err := g.Retrieve([]byte("relay1.gain"))
	require.NoError(t, err)
	var values map[string]float64
	require.NoError(t, yaml.Unmarshal(out, &values))
	assert.Equal(t, 0.25, values["relay1.gain"])
	require.NoError(t, g.Stop())
	for _, v := range sink.Samples() {
		assert.Contains(t, []float64{1, 0.25}, v)
	}
}

func TestApply(t *testing.T) {
	g, _ := newGraph(t, &mock.Source{Limit: 3}, nil, nil)
	require.NoError(t, build(t, g, chain))
	require.NoError(t, g.Start(graph.RunOptions{}))
	require.NoError(t, g.Wait())

	out, err := g.Apply([]byte("sink:\n  count:"))
	require.NoError(t, err)
	var result map[string]map[string]int
	require.NoError(t, yaml.Unmarshal(out, &result))
	assert.LessOrEqual(t, result["sink"]["count"], 3)

	_, err = g.Apply([]byte("sink:\n  flush:"))
	assert.ErrorIs(t, err, graph.ErrUnknownMethod)
	_, err = g.Apply([]byte("nowhere:\n  count:"))
	assert.ErrorIs(t, err, graph.ErrUnknownProcessor)
}

func TestExport(t *testing.T) {
	g, _ := newGraph(t, nil, nil, nil)
	_, err := g.Export()
	assert.ErrorIs(t, err, graph.ErrInvalidState)

	require.NoError(t, build(t, g, sharedStates))
	out, err := g.Export()
	require.NoError(t, err)

	def, err := graph.ParseDefinition(out)
	require.NoError(t, err)
	names := make([]string, 0, len(def.Processors))
	for _, p := range def.Processors {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"source", "relay(1-3)", "sink"}, names)
	assert.Equal(t, "locked", def.States[1].Name)
	assert.Equal(t, "gain", def.States[0].Name)

	// exported document builds the same graph.
	g2, _ := newGraph(t, nil, nil, nil)
	require.NoError(t, g2.Build(def))
	assert.Equal(t, g.Connections(), g2.Connections())
}

func TestDocumentation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mock-source.md"), []byte("# Source"), 0o644))
	g, _ := newGraph(t, nil, nil, nil, graph.WithDocumentationPath(dir))

	doc, err := g.Documentation("Mock-Source")
	require.NoError(t, err)
	assert.Equal(t, "# Source", doc)

	_, err = g.Documentation("mock-sink")
	assert.ErrorIs(t, err, graph.ErrNoDocumentation)
}

func TestOptions(t *testing.T) {
	r, _ := mock.Registry(nil, nil, nil)
	_, err := graph.New(r, graph.WithBufferSize(0))
	assert.Error(t, err)
	_, err = graph.New(r, graph.WithWaitStrategy("yield"))
	assert.Error(t, err)
}
