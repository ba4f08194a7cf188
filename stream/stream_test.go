package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/falcon/payload"
	"github.com/dudk/falcon/ring"
	"github.com/dudk/falcon/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	params = payload.MultiChannelParameters{Channels: 2, Samples: 4, SampleRate: 1000}
	caps   = payload.MultiChannelCapabilities{Channels: payload.Range{Min: 1, Max: 8}, Samples: payload.Any}
)

func newOut(policy stream.OutputPolicy) *stream.PortOut[*payload.MultiChannel] {
	return stream.NewPortOut("data out", payload.NewMultiChannel, caps, params, policy)
}

func newIn(policy stream.InputPolicy) *stream.PortIn[*payload.MultiChannel] {
	return stream.NewPortIn[*payload.MultiChannel]("data_in", caps, policy)
}

// connect wires out slot to a new input slot and finalizes both ports.
func connect(t *testing.T, out *stream.PortOut[*payload.MultiChannel], in *stream.PortIn[*payload.MultiChannel]) {
	t.Helper()
	require.NoError(t, in.VerifyCompatibility(out))
	o, err := out.ReserveSlot(-1)
	require.NoError(t, err)
	i, err := in.ReserveSlot(-1)
	require.NoError(t, err)
	require.NoError(t, in.Connect(i, out.OutputSlot(o)))
	require.NoError(t, out.Finalize())
	require.NoError(t, in.Validate())
	require.NoError(t, in.Finalize())
	require.NoError(t, out.Allocate())
	out.PrepareProcessing()
	in.PrepareProcessing()
}

func TestNames(t *testing.T) {
	out := newOut(stream.DefaultOutputPolicy())
	assert.Equal(t, "data-out", out.Name())
	in := newIn(stream.DefaultInputPolicy())
	assert.Equal(t, "data-in", in.Name())

	_, err := stream.ValidateName("1data")
	assert.ErrorIs(t, err, stream.ErrInvalidName)
}

func TestStreamInfoFinalize(t *testing.T) {
	info := stream.NewStreamInfo(params)
	info.SetRate(10)
	info.SetParameters(payload.MultiChannelParameters{Channels: 1, Samples: 1})
	info.Finalize()
	info.Finalize()
	assert.True(t, info.Finalized())
	assert.Equal(t, 10.0, info.Rate())
	assert.Equal(t, payload.MultiChannelParameters{Channels: 1, Samples: 1}, info.Parameters())

	assert.PanicsWithError(t, "set rate: "+stream.ErrFinalized.Error(), func() {
		info.SetRate(20)
	})
	assert.PanicsWithError(t, "set parameters: "+stream.ErrFinalized.Error(), func() {
		info.SetParameters(params)
	})
}

func TestReserveSlot(t *testing.T) {
	out := newOut(stream.OutputPolicy{MaxSlots: 2})
	i, err := out.ReserveSlot(-1)
	assert.NoError(t, err)
	assert.Equal(t, 0, i)
	// output slot can be reserved by many consumers.
	i, err = out.ReserveSlot(0)
	assert.NoError(t, err)
	assert.Equal(t, 0, i)
	i, err = out.ReserveSlot(-1)
	assert.NoError(t, err)
	assert.Equal(t, 1, i)
	_, err = out.ReserveSlot(-1)
	assert.ErrorIs(t, err, stream.ErrSlotRange)
	assert.Equal(t, 2, out.NumSlots())

	in := newIn(stream.InputPolicy{MaxSlots: 3})
	i, err = in.ReserveSlot(2)
	assert.NoError(t, err)
	assert.Equal(t, 2, i)
	assert.Equal(t, 3, in.NumSlots())
	require.NoError(t, in.Connect(2, out.OutputSlot(0)))
	_, err = in.ReserveSlot(2)
	assert.ErrorIs(t, err, stream.ErrSlotTaken)
	_, err = in.ReserveSlot(3)
	assert.ErrorIs(t, err, stream.ErrSlotRange)

	// slots 0 and 1 are not connected.
	assert.ErrorIs(t, in.Validate(), stream.ErrNotConnected)
}

func TestConnectTypeMismatch(t *testing.T) {
	out := stream.NewPortOut("events", payload.NewEvent, payload.EventCapabilities{}, payload.EventParameters{}, stream.DefaultOutputPolicy())
	in := newIn(stream.DefaultInputPolicy())
	assert.ErrorIs(t, in.VerifyCompatibility(out), stream.ErrTypeMismatch)

	_, err := out.ReserveSlot(-1)
	require.NoError(t, err)
	_, err = in.ReserveSlot(-1)
	require.NoError(t, err)
	assert.ErrorIs(t, in.Connect(0, out.OutputSlot(0)), stream.ErrTypeMismatch)
}

func TestIncompatibleCapabilities(t *testing.T) {
	out := stream.NewPortOut("data", payload.NewMultiChannel,
		payload.MultiChannelCapabilities{Channels: payload.Range{Min: 9, Max: 16}, Samples: payload.Any},
		params, stream.DefaultOutputPolicy())
	in := newIn(stream.DefaultInputPolicy())
	assert.ErrorIs(t, in.VerifyCompatibility(out), stream.ErrIncompatible)
}

func TestValidateParameters(t *testing.T) {
	out := stream.NewPortOut("data", payload.NewMultiChannel, caps,
		payload.MultiChannelParameters{Channels: 12, Samples: 4}, stream.DefaultOutputPolicy())
	in := newIn(stream.DefaultInputPolicy())
	o, _ := out.ReserveSlot(-1)
	i, _ := in.ReserveSlot(-1)
	require.NoError(t, in.Connect(i, out.OutputSlot(o)))
	assert.ErrorIs(t, in.Validate(), stream.ErrInvalidParameters)
}

func TestSlotStates(t *testing.T) {
	out := newOut(stream.OutputPolicy{MinSlots: 2})
	in := newIn(stream.DefaultInputPolicy())
	o, _ := out.ReserveSlot(-1)
	i, _ := in.ReserveSlot(-1)
	assert.Equal(t, stream.Created, out.Slot(o).State())
	require.NoError(t, in.Connect(i, out.OutputSlot(o)))
	assert.Equal(t, stream.Connected, out.Slot(o).State())
	assert.Equal(t, stream.Connected, in.Slot(i).State())

	assert.ErrorIs(t, out.Allocate(), stream.ErrNotFinalized)
	assert.ErrorIs(t, in.Finalize(), stream.ErrNotFinalized)
	require.NoError(t, out.Finalize())
	require.NoError(t, in.Finalize())
	assert.Equal(t, stream.Finalized, out.Slot(o).State())
	assert.Equal(t, stream.Finalized, in.Slot(i).State())
	// port is padded up to minimum.
	assert.Equal(t, 2, out.NumSlots())
	assert.Equal(t, stream.Created, out.Slot(1).State())

	require.NoError(t, out.Allocate())
	out.PrepareProcessing()
	in.PrepareProcessing()
	assert.Equal(t, stream.Running, out.Slot(o).State())
	assert.Equal(t, stream.Running, in.Slot(i).State())
	// graph can be started again.
	out.PrepareProcessing()
	assert.Equal(t, stream.Running, out.Slot(o).State())
}

func TestClaimPublishRetrieve(t *testing.T) {
	out := newOut(stream.OutputPolicy{BufferSize: 4})
	in := newIn(stream.DefaultInputPolicy())
	connect(t, out, in)
	so, si := out.Slot(0), in.Slot(0)
	assert.Equal(t, 1, so.NumConsumers())

	for i := 0; i < 3; i++ {
		d, ok := so.Claim(true)
		require.True(t, ok)
		assert.Equal(t, 2, d.NumChannels())
		d.Data[0][0] = float64(i)
	}
	assert.Equal(t, 3, so.NumClaimed())
	so.Publish()
	assert.Equal(t, int64(3), so.Published())

	require.True(t, si.Retrieve(2))
	assert.Equal(t, 2, si.Len())
	assert.Equal(t, 0.0, si.At(0).Data[0][0])
	assert.Equal(t, uint64(1), si.At(1).Serial)
	si.Release()
	assert.Equal(t, int64(2), si.Retrieved())

	n, ok := si.RetrieveAll()
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, si.At(0).Data[0][0])
	si.Release()
	assert.Equal(t, int64(3), si.Retrieved())
}

func TestTryClaimFull(t *testing.T) {
	out := newOut(stream.OutputPolicy{BufferSize: 2})
	in := newIn(stream.DefaultInputPolicy())
	connect(t, out, in)
	so := out.Slot(0)
	for i := 0; i < 2; i++ {
		_, err := so.TryClaim(false)
		require.NoError(t, err)
	}
	so.Publish()
	_, err := so.TryClaim(false)
	assert.ErrorIs(t, err, ring.ErrInsufficientCapacity)
}

func TestOverwrite(t *testing.T) {
	out := newOut(stream.OutputPolicy{BufferSize: 2, Overwrite: true})
	in := newIn(stream.DefaultInputPolicy())
	connect(t, out, in)
	so := out.Slot(0)
	// never blocks although consumer doesn't read.
	for i := 0; i < 5; i++ {
		_, ok := so.Claim(false)
		require.True(t, ok)
		so.Publish()
	}
	assert.Equal(t, int64(5), so.Published())
}

func TestRetrieveTimeout(t *testing.T) {
	out := newOut(stream.DefaultOutputPolicy())
	in := newIn(stream.InputPolicy{MinSlots: 1, MaxSlots: 1, Timeout: 5 * time.Millisecond})
	connect(t, out, in)
	assert.False(t, in.Slot(0).Retrieve(1))
}

func TestAlertUnblocksConsumer(t *testing.T) {
	out := newOut(stream.DefaultOutputPolicy())
	in := newIn(stream.DefaultInputPolicy())
	connect(t, out, in)

	done := make(chan bool)
	go func() {
		done <- in.Slot(0).Retrieve(1)
	}()
	time.Sleep(5 * time.Millisecond)
	out.Alert()
	assert.False(t, <-done)

	// next run clears the alert.
	out.PrepareProcessing()
	in.PrepareProcessing()
	_, ok := out.Slot(0).Claim(false)
	require.True(t, ok)
	out.Slot(0).Publish()
	assert.True(t, in.Slot(0).Retrieve(1))
}

func TestUnconnectedOutput(t *testing.T) {
	out := newOut(stream.OutputPolicy{MinSlots: 1, BufferSize: 2})
	require.NoError(t, out.Finalize())
	require.NoError(t, out.Allocate())
	out.PrepareProcessing()
	for i := 0; i < 10; i++ {
		_, ok := out.Slot(0).Claim(true)
		require.True(t, ok)
		out.Slot(0).Publish()
	}
	assert.Equal(t, 0, out.Slot(0).NumConsumers())
}
