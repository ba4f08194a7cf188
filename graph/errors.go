package graph

import (
	"errors"
	"fmt"

	"github.com/dudk/falcon/rule"
)

var (
	// ErrUnknownClass is returned when processor class is not registered.
	ErrUnknownClass = errors.New("unknown processor class")
	// ErrUnknownProcessor is returned when processor is not in the graph.
	ErrUnknownProcessor = errors.New("unknown processor")
	// ErrDuplicateProcessor is returned when processor name is not unique.
	ErrDuplicateProcessor = errors.New("duplicate processor")
	// ErrUnknownPort is returned when processor has no such port.
	ErrUnknownPort = errors.New("unknown port")
	// ErrDuplicatePort is returned when port name is not unique.
	ErrDuplicatePort = errors.New("duplicate port")
	// ErrAmbiguousPort is returned when default port is requested from
	// processor with many ports.
	ErrAmbiguousPort = errors.New("processor has no default port")
	// ErrUnknownState is returned when processor or alias has no such
	// state.
	ErrUnknownState = errors.New("unknown state")
	// ErrDuplicateState is returned when state name is not unique.
	ErrDuplicateState = errors.New("duplicate state")
	// ErrUnknownMethod is returned when processor has no such method.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrCycle is returned when negotiation can't progress.
	ErrCycle = errors.New("cyclic connections")
	// ErrInvalidDefinition is returned when definition can't be parsed.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrNoDocumentation is returned when class has no documentation.
	ErrNoDocumentation = errors.New("no available documentation")
	// ErrPanic wraps value of recovered processor panic.
	ErrPanic = errors.New("processor panic")
	// ErrEndOfStream is returned by processor which has nothing more to
	// process. The run is stopped without error.
	ErrEndOfStream = errors.New("end of stream")
)

// ConnectionError is returned when two slots can't be connected.
type ConnectionError struct {
	Rule string
	Out  rule.SlotAddress
	In   rule.SlotAddress
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %v to %v (rule %q): %v", e.Out, e.In, e.Rule, e.Err)
}

// Unwrap returns the cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
