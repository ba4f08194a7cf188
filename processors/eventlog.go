package processors

import (
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/stream"
)

// EventLog logs received events.
type EventLog struct {
	in    *stream.PortIn[*payload.Event]
	count atomic.Int64
}

// CreatePorts implements graph.Processor.
func (l *EventLog) CreatePorts(n *graph.Node) error {
	var err error
	l.in, err = graph.CreateInputPort[*payload.Event](n, "events", payload.EventCapabilities{}, stream.DefaultInputPolicy())
	if err != nil {
		return err
	}
	return n.AddMethod("count", func(*yaml.Node) (interface{}, error) {
		return l.count.Load(), nil
	})
}

// Preprocess implements graph.Preprocessor.
func (l *EventLog) Preprocess(*graph.ProcessingContext) error {
	l.count.Store(0)
	return nil
}

// Process implements graph.Processor.
func (l *EventLog) Process(ctx *graph.ProcessingContext) error {
	in := l.in.Slot(0)
	n, ok := in.RetrieveAll()
	if !ok {
		return nil
	}
	for i := 0; i < n; i++ {
		e := in.At(i)
		ctx.Logger().WithField("event", e.Name).
			WithField("channel", e.Channel).
			WithField("value", e.Value).
			WithField("serial", e.Serial).
			Info("event")
	}
	l.count.Add(int64(n))
	in.Release()
	return nil
}
