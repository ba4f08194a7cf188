package stream

import "time"

const (
	// DefaultBufferSize is the ring size of output slots.
	DefaultBufferSize = 2000
	// DefaultMaxSlots limits number of slots of a port.
	DefaultMaxSlots = 256
)

// OutputPolicy governs output port slots and their rings.
type OutputPolicy struct {
	MinSlots   int
	MaxSlots   int
	BufferSize int
	// WaitStrategy is a name accepted by ring.ParseWaitStrategy.
	WaitStrategy string
	// Overwrite allows producer to overwrite entries consumers didn't
	// release yet instead of blocking.
	Overwrite bool
}

// InputPolicy governs input port slots.
type InputPolicy struct {
	MinSlots int
	MaxSlots int
	// Timeout limits a single retrieve wait. Zero waits until data is
	// published or slot is alerted.
	Timeout time.Duration
}

// DefaultOutputPolicy returns policy with up to DefaultMaxSlots slots.
func DefaultOutputPolicy() OutputPolicy {
	return OutputPolicy{
		MaxSlots:   DefaultMaxSlots,
		BufferSize: DefaultBufferSize,
	}
}

// DefaultInputPolicy returns policy of exactly one slot.
func DefaultInputPolicy() InputPolicy {
	return InputPolicy{
		MinSlots: 1,
		MaxSlots: 1,
	}
}

func (p OutputPolicy) normalize() OutputPolicy {
	if p.MaxSlots <= 0 {
		p.MaxSlots = DefaultMaxSlots
	}
	if p.MinSlots > p.MaxSlots {
		p.MinSlots = p.MaxSlots
	}
	if p.BufferSize <= 0 {
		p.BufferSize = DefaultBufferSize
	}
	return p
}

func (p InputPolicy) normalize() InputPolicy {
	if p.MaxSlots <= 0 {
		p.MaxSlots = DefaultMaxSlots
	}
	if p.MinSlots > p.MaxSlots {
		p.MinSlots = p.MaxSlots
	}
	return p
}
