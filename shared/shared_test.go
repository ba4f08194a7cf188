package shared_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/falcon/shared"
)

var (
	rw     = shared.Permissions{Self: shared.Write, Peers: shared.Write, External: shared.Write}
	reader = shared.Permissions{Self: shared.Read, Peers: shared.Write, External: shared.Read}
	owner  = shared.Permissions{Self: shared.Write, Peers: shared.Read, External: shared.Write}
)

func TestParsePermission(t *testing.T) {
	var tests = []struct {
		in       string
		expected shared.Permission
		err      bool
	}{
		{in: "none", expected: shared.None},
		{in: "READ", expected: shared.Read},
		{in: "write", expected: shared.Write},
		{in: "", expected: shared.Write},
		{in: "execute", err: true},
	}
	for _, c := range tests {
		p, err := shared.ParsePermission(c.in)
		if c.err {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, c.expected, p)
		assert.Equal(t, c.expected.String(), p.String())
	}
}

func TestCompatible(t *testing.T) {
	var tests = []struct {
		a, b     shared.Permissions
		expected bool
	}{
		{a: rw, b: rw, expected: true},
		{a: owner, b: reader, expected: true},
		{a: reader, b: owner, expected: true},
		// only one writer is allowed if peers may only read.
		{a: owner, b: rw, expected: false},
		{a: owner, b: owner, expected: false},
		{a: rw, b: shared.Permissions{Self: shared.Write, Peers: shared.None}, expected: false},
	}
	for i, c := range tests {
		assert.Equal(t, c.expected, c.a.Compatible(c.b), "case %d", i)
	}
}

func TestCell(t *testing.T) {
	c := shared.NewCell("gain", 1.5, rw, "gain factor")
	assert.Equal(t, "float", c.Kind())
	assert.Equal(t, 1.5, c.Get())
	_, changed := c.Changed()
	assert.False(t, changed)

	assert.Equal(t, 1.5, c.Exchange(2))
	v, changed := c.Changed()
	assert.True(t, changed)
	assert.Equal(t, 2.0, v)
	_, changed = c.Changed()
	assert.False(t, changed)

	assert.Equal(t, "2", c.Text())
	assert.NoError(t, c.SetText("0.25"))
	assert.Equal(t, 0.25, c.Get())
	assert.Error(t, c.SetText("loud"))
	assert.Error(t, c.ValidateText("loud"))
	assert.NoError(t, c.ValidateText("4"))
	assert.Equal(t, 0.25, c.Get())

	b := shared.NewCell("enabled", false, rw, "")
	assert.Equal(t, "bool", b.Kind())
	require.NoError(t, b.SetText("true"))
	assert.True(t, b.Get())

	i := shared.NewCell("count", int64(3), rw, "")
	assert.Equal(t, "int", i.Kind())
	assert.Equal(t, "3", i.Text())

	s := shared.NewCell("label", "a", rw, "")
	require.NoError(t, s.SetText("b"))
	assert.Equal(t, "b", s.Text())
}

func TestAlias(t *testing.T) {
	a := shared.NewAlias("gain", shared.Write, "")
	c1 := shared.NewCell("gain", 1.0, owner, "")
	c2 := shared.NewCell("gain", 2.0, reader, "")
	require.NoError(t, a.AddState("scale1.gain", c1))
	require.NoError(t, a.AddState("scale2.gain", c2))
	assert.True(t, c1.Shared())
	assert.Equal(t, []string{"scale1.gain", "scale2.gain"}, a.Members())

	// first member value is authoritative.
	assert.Equal(t, 1.0, c2.Get())
	c1.Set(3)
	assert.Equal(t, 3.0, c2.Get())
	require.NoError(t, a.State().SetText("4"))
	assert.Equal(t, 4.0, c1.Get())

	// reader restricts external access to the shared value.
	assert.Equal(t, shared.Read, c1.ExternalPermission())
	assert.Equal(t, shared.Read, a.State().ExternalPermission())

	assert.ErrorIs(t, a.AddState("scale1.gain", c1), shared.ErrDuplicate)

	require.NoError(t, a.RemoveState("scale2.gain"))
	assert.False(t, c2.Shared())
	assert.Equal(t, shared.Read, c2.ExternalPermission())
	assert.Equal(t, shared.Write, c1.ExternalPermission())
	c1.Set(5)
	assert.Equal(t, 4.0, c2.Get())

	assert.ErrorIs(t, a.RemoveState("scale2.gain"), shared.ErrNotFound)

	a.RemoveAllStates()
	assert.False(t, c1.Shared())
	assert.Nil(t, a.State())
	assert.Empty(t, a.Members())
	assert.Equal(t, 5.0, c1.Get())
}

func TestAliasIncompatible(t *testing.T) {
	a := shared.NewAlias("gain", shared.Write, "")
	c1 := shared.NewCell("gain", 1.0, owner, "")
	c2 := shared.NewCell("gain", 2.0, rw, "")
	require.NoError(t, a.AddState("a.gain", c1))
	err := a.AddState("b.gain", c2)
	assert.ErrorIs(t, err, shared.ErrIncompatible)
	assert.False(t, c2.Shared())
	assert.Equal(t, 2.0, c2.Get())
	assert.Equal(t, []string{"a.gain"}, a.Members())

	c3 := shared.NewCell("gain", int64(1), reader, "")
	assert.ErrorIs(t, a.AddState("c.gain", c3), shared.ErrKind)
}

func TestConcurrentAccess(t *testing.T) {
	a := shared.NewAlias("label", shared.Write, "")
	writer := shared.NewCell("label", "first", rw, "")
	observer := shared.NewCell("label", "", rw, "")
	require.NoError(t, a.AddState("a.label", writer))
	require.NoError(t, a.AddState("b.label", observer))

	const n = 1000
	values := []string{"first", "second value"}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			writer.Set(values[i%2])
		}
	}()
	for i := 0; i < n; i++ {
		assert.Contains(t, values, observer.Get())
	}
	wg.Wait()
	assert.Equal(t, writer.Get(), observer.Get())
}
