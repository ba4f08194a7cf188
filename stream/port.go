package stream

import (
	"fmt"
	"reflect"

	"github.com/dudk/falcon/internal/name"
)

// Port is a named, typed attachment point of a processor.
type Port interface {
	Name() string
	DataType() reflect.Type
	Capabilities() Capabilities
	NumSlots() int
	// ReserveSlot returns index of a slot for a new connection. Negative
	// index requests a new slot.
	ReserveSlot(index int) (int, error)
	// Finalize completes negotiation of the port slots.
	Finalize() error
	// PrepareProcessing rewinds slots before each processing run.
	PrepareProcessing()
}

// OutputPort is a type-erased PortOut.
type OutputPort interface {
	Port
	Policy() OutputPolicy
	SetBufferSize(n int)
	SetWaitStrategy(name string)
	DefaultParameters() Parameters
	OutputSlot(i int) OutputSlot
	// Pad adds unconnected slots up to minimum.
	Pad()
	// Allocate creates rings of all slots. Slots must be finalized.
	Allocate() error
	// Alert interrupts every wait on port rings.
	Alert()
}

// InputPort is a type-erased PortIn.
type InputPort interface {
	Port
	Policy() InputPolicy
	InputSlot(i int) InputSlot
	// VerifyCompatibility checks if upstream port can be connected.
	VerifyCompatibility(upstream OutputPort) error
	// Connect binds input slot to upstream slot.
	Connect(index int, upstream OutputSlot) error
	// Validate checks upstream parameters of every slot.
	Validate() error
}

// OutputSlot is a type-erased SlotOut.
type OutputSlot interface {
	Index() int
	State() SlotState
	StreamInfo() *StreamInfo
	NumConsumers() int
	Published() int64
}

// InputSlot is a type-erased SlotIn.
type InputSlot interface {
	Index() int
	State() SlotState
	Connected() bool
	Upstream() OutputSlot
	// StreamInfo returns upstream stream info or nil if not connected.
	StreamInfo() *StreamInfo
	Retrieved() int64
}

// ValidateName returns normalized port name.
func ValidateName(s string) (string, error) {
	n, err := name.Validate(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return n, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func normalizeName(s string) string {
	return name.Normalize(s)
}
