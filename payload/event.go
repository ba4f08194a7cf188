package payload

import (
	"fmt"

	"github.com/dudk/falcon/stream"
)

// EventCapabilities lists event names accepted by a port. Empty list
// accepts any event.
type EventCapabilities struct {
	Events []string
}

// EventParameters is a configuration of event stream. Events have none.
type EventParameters struct{}

// Event is a named occurrence detected in a stream.
type Event struct {
	stream.Header
	Name    string
	Channel int
	Value   float64
}

// NewEvent is a payload factory used by output ports.
func NewEvent() *Event {
	return &Event{}
}

// VerifyCompatibility implements stream.Capabilities.
func (c EventCapabilities) VerifyCompatibility(upstream stream.Capabilities) error {
	u, ok := upstream.(EventCapabilities)
	if !ok {
		return fmt.Errorf("%w: %T is not event", stream.ErrIncompatible, upstream)
	}
	if len(c.Events) == 0 || len(u.Events) == 0 {
		return nil
	}
	for _, e := range u.Events {
		for _, accepted := range c.Events {
			if e == accepted {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: events %v don't overlap %v", stream.ErrIncompatible, u.Events, c.Events)
}

// Validate implements stream.Capabilities.
func (c EventCapabilities) Validate(p stream.Parameters) error {
	if _, ok := p.(EventParameters); !ok {
		return fmt.Errorf("%w: %T is not event", stream.ErrInvalidParameters, p)
	}
	return nil
}

// Initialize implements stream.Data.
func (e *Event) Initialize(p stream.Parameters) error {
	if _, ok := p.(EventParameters); !ok {
		return fmt.Errorf("%w: %T is not event", stream.ErrInvalidParameters, p)
	}
	return nil
}

// Reset implements stream.Data.
func (e *Event) Reset() {
	e.Name = ""
	e.Channel = 0
	e.Value = 0
	e.Hardware = 0
}
