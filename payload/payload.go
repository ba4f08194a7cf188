// Package payload provides data types carried by streams.
package payload

import (
	"fmt"
	"math"
)

// Range is an inclusive range of integers.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Any accepts every positive value.
var Any = Range{Min: 1, Max: math.MaxInt32}

// Overlaps reports if ranges have common values.
func (r Range) Overlaps(o Range) bool {
	return r.Min <= o.Max && o.Min <= r.Max
}

// Contains reports if v is within range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	if r.Max == math.MaxInt32 {
		return fmt.Sprintf("[%d,inf]", r.Min)
	}
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}
