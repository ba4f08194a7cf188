package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/stream"
)

func TestMultiChannelCompatibility(t *testing.T) {
	var tests = []struct {
		upstream   payload.Range
		downstream payload.Range
		err        bool
	}{
		{upstream: payload.Range{Min: 1, Max: 8}, downstream: payload.Range{Min: 9, Max: 16}, err: true},
		{upstream: payload.Range{Min: 1, Max: 16}, downstream: payload.Range{Min: 8, Max: 24}},
		{upstream: payload.Range{Min: 4, Max: 4}, downstream: payload.Any},
		{upstream: payload.Range{Min: 9, Max: 16}, downstream: payload.Range{Min: 1, Max: 8}, err: true},
	}
	for _, c := range tests {
		up := payload.MultiChannelCapabilities{Channels: c.upstream, Samples: payload.Any}
		down := payload.MultiChannelCapabilities{Channels: c.downstream, Samples: payload.Any}
		err := down.VerifyCompatibility(up)
		if c.err {
			assert.ErrorIs(t, err, stream.ErrIncompatible)
			assert.Contains(t, err.Error(), c.upstream.String())
			assert.Contains(t, err.Error(), c.downstream.String())
		} else {
			assert.NoError(t, err)
		}
	}

	err := payload.MultiChannelCapabilities{}.VerifyCompatibility(payload.EventCapabilities{})
	assert.ErrorIs(t, err, stream.ErrIncompatible)
}

func TestMultiChannelValidate(t *testing.T) {
	caps := payload.MultiChannelCapabilities{
		Channels: payload.Range{Min: 1, Max: 8},
		Samples:  payload.Any,
	}
	assert.NoError(t, caps.Validate(payload.MultiChannelParameters{Channels: 8, Samples: 10}))
	assert.ErrorIs(t, caps.Validate(payload.MultiChannelParameters{Channels: 9, Samples: 10}), stream.ErrInvalidParameters)
	assert.ErrorIs(t, caps.Validate(payload.EventParameters{}), stream.ErrInvalidParameters)
}

func TestMultiChannelData(t *testing.T) {
	m := payload.NewMultiChannel()
	assert.Error(t, m.Initialize(payload.MultiChannelParameters{}))
	assert.NoError(t, m.Initialize(payload.MultiChannelParameters{Channels: 2, Samples: 4, SampleRate: 100}))
	assert.Equal(t, 2, m.NumChannels())
	assert.Equal(t, 4, m.NumSamples())

	m.Data[1][3] = 1
	m.Head().Hardware = 10
	m.Reset()
	assert.Equal(t, 0.0, m.Data[1][3])
	assert.Equal(t, uint64(0), m.Hardware)
}

func TestEventCompatibility(t *testing.T) {
	all := payload.EventCapabilities{}
	spikes := payload.EventCapabilities{Events: []string{"spike"}}
	ripples := payload.EventCapabilities{Events: []string{"ripple", "burst"}}
	assert.NoError(t, all.VerifyCompatibility(spikes))
	assert.NoError(t, spikes.VerifyCompatibility(all))
	assert.ErrorIs(t, spikes.VerifyCompatibility(ripples), stream.ErrIncompatible)
	assert.NoError(t, ripples.VerifyCompatibility(payload.EventCapabilities{Events: []string{"burst"}}))
}
