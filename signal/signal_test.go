package signal_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/falcon/signal"
)

func TestFloat64AsInterInt(t *testing.T) {
	tests := []struct {
		floats   [][]float64
		bitDepth signal.BitDepth
		expected []int
	}{
		{
			floats: [][]float64{
				{1, 1, 1, 1, 1, 1, 1, 1},
				{2, 2, 2, 2, 2, 2, 2, 2},
			},
			expected: []int{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2},
		},
		{
			floats: [][]float64{
				{1, 1, 1, 1, 1, 1, 1, 1},
				{2, 2, 2, 2, 2, 2},
			},
			expected: []int{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 0, 1, 0},
		},
		{
			floats: [][]float64{
				{0.5},
				{2},
				{-3},
			},
			bitDepth: signal.BitDepth16,
			expected: []int{16383, math.MaxInt16, -math.MaxInt16},
		},
		{
			floats:   nil,
			expected: nil,
		},
		{
			floats: [][]float64{
				{},
				{},
			},
			expected: []int{},
		},
	}

	for _, test := range tests {
		floats := signal.Float64(test.floats)
		ints := floats.AsInterInt(test.bitDepth, nil)
		assert.Equal(t, len(test.expected), len(ints))
		for i := range test.expected {
			assert.Equal(t, test.expected[i], ints[i])
		}
	}
}

func TestAsInterIntReuse(t *testing.T) {
	buf := make([]int, 0, 10)
	ints := signal.Float64{{1, 2}, {3, 4}}.AsInterInt(0, buf)
	assert.Equal(t, []int{1, 3, 2, 4}, ints)
	assert.Equal(t, 10, cap(ints))
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(100, 100))
	assert.Equal(t, 500*time.Millisecond, signal.DurationOf(10, 5))
	assert.Equal(t, time.Duration(0), signal.DurationOf(0, 5))
}

func TestScaleAverage(t *testing.T) {
	a := signal.Float64{{1, 2}, {3, 4}}
	a.Scale(2)
	assert.Equal(t, signal.Float64{{2, 4}, {6, 8}}, a)

	out := signal.EmptyFloat64(2, 2)
	assert.Equal(t, 2, out.NumChannels())
	assert.Equal(t, 2, out.Size())
	out.Average(a, signal.Float64{{0, 0}, {0, 0}})
	assert.Equal(t, signal.Float64{{1, 2}, {3, 4}}, out)
}

func TestSine(t *testing.T) {
	s := signal.EmptyFloat64(2, 4)
	s.Sine(0, 4, 1, 1, 0.5)
	assert.InDelta(t, 0.5, s[0][0], 1e-9)
	assert.InDelta(t, 1.5, s[0][1], 1e-9)
	assert.InDelta(t, 0.5, s[0][2], 1e-9)
	assert.InDelta(t, -0.5, s[0][3], 1e-9)
	// second channel is shifted by half of period.
	assert.InDelta(t, -0.5, s[1][1], 1e-9)
}

func TestInterIntCopyToFloat64(t *testing.T) {
	ints := signal.InterInt{
		Data:        []int{math.MaxInt16, 0, -math.MaxInt16, math.MaxInt16 / 2},
		NumChannels: 2,
		BitDepth:    signal.BitDepth16,
	}
	assert.Equal(t, 2, ints.Size())

	floats := signal.EmptyFloat64(2, 3)
	floats[0][2] = 5
	assert.Equal(t, 2, ints.CopyToFloat64(floats))
	assert.Equal(t, []float64{1, -1, 0}, floats[0])
	assert.Equal(t, 0.0, floats[1][0])
	assert.InDelta(t, 0.5, floats[1][1], 0.001)
}
