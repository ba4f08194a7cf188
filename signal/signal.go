// Package signal provides operations on non-interleaved multichannel
// sample buffers. It allows to:
//   - convert float samples to interleaved ints of a bit depth and back
//   - generate, scale and average buffers in place
package signal

import (
	"math"
	"time"
)

// Float64 is a non-interleaved float64 signal.
type Float64 [][]float64

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth24 is 24 bit depth.
	BitDepth24 = BitDepth(24)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for float-to-int conversion.
type BitDepth int

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth24:
		return 1<<23 - 1
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// DurationOf returns time duration of n payloads for provided rate.
// Zero is returned if rate is not positive.
func DurationOf(rate float64, n int64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / rate * float64(time.Second))
}

// EmptyFloat64 returns an empty buffer of specified dimensions.
func EmptyFloat64(numChannels int, bufferSize int) Float64 {
	result := make([][]float64, numChannels)
	for i := range result {
		result[i] = make([]float64, bufferSize)
	}
	return result
}

// NumChannels returns number of channels in this sample slice
func (floats Float64) NumChannels() int {
	return len(floats)
}

// Size returns number of samples in single block in this sample slice
func (floats Float64) Size() int {
	if floats.NumChannels() == 0 {
		return 0
	}
	return len(floats[0])
}

// AsInterInt converts float64 signal to interleaved int. Samples are
// clipped to [-1, 1] for known bit depths. Ints buffer is reused if it
// has enough capacity. Missing samples of shorter channels are zeros.
func (floats Float64) AsInterInt(bitDepth BitDepth, ints []int) []int {
	var numChannels int
	if numChannels = len(floats); numChannels == 0 {
		return nil
	}

	// determine the multiplier for bit depth conversion
	multiplier := float64(bitDepth.multiplier())
	clip := multiplier > 1

	size := len(floats[0]) * numChannels
	if cap(ints) < size {
		ints = make([]int, size)
	}
	ints = ints[:size]
	for i := range ints {
		ints[i] = 0
	}
	for j := range floats {
		for i, v := range floats[j] {
			if i*numChannels+j >= size {
				break
			}
			if clip {
				v = math.Max(-1, math.Min(1, v))
			}
			ints[i*numChannels+j] = int(v * multiplier)
		}
	}
	return ints
}

// InterInt is an interleaved int signal.
type InterInt struct {
	Data        []int
	NumChannels int
	BitDepth    BitDepth
}

// Size returns number of samples per channel.
func (ints InterInt) Size() int {
	if ints.NumChannels == 0 {
		return 0
	}
	return len(ints.Data) / ints.NumChannels
}

// CopyToFloat64 deinterleaves samples into floats buffer. Number of
// copied samples per channel is returned, the rest of floats is zeroed.
func (ints InterInt) CopyToFloat64(floats Float64) int {
	multiplier := float64(ints.BitDepth.multiplier())
	n := ints.Size()
	if n > floats.Size() {
		n = floats.Size()
	}
	for j := range floats {
		for i := range floats[j] {
			if i >= n || j >= ints.NumChannels {
				floats[j][i] = 0
				continue
			}
			floats[j][i] = float64(ints.Data[i*ints.NumChannels+j]) / multiplier
		}
	}
	return n
}

// Scale multiplies every sample by gain.
func (floats Float64) Scale(gain float64) {
	for _, ch := range floats {
		for i := range ch {
			ch[i] *= gain
		}
	}
}

// Average writes to floats the average of sources. Sources must have the
// same dimensions as floats.
func (floats Float64) Average(sources ...Float64) {
	if len(sources) == 0 {
		return
	}
	n := float64(len(sources))
	for c, ch := range floats {
		for i := range ch {
			var sum float64
			for _, s := range sources {
				sum += s[c][i]
			}
			ch[i] = sum / n
		}
	}
}

// Sine fills every channel with sine wave starting at sample position
// start. Channel c is shifted in phase by c/numChannels of a period.
func (floats Float64) Sine(start int64, sampleRate, frequency, amplitude, offset float64) {
	n := float64(len(floats))
	for c, ch := range floats {
		phase := 2 * math.Pi * float64(c) / n
		for i := range ch {
			t := float64(start+int64(i)) / sampleRate
			ch[i] = offset + amplitude*math.Sin(2*math.Pi*frequency*t+phase)
		}
	}
}
