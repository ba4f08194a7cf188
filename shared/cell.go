package shared

import (
	"fmt"
	"strconv"
	"sync/atomic"
)

// Value is a type a cell can hold.
type Value interface {
	bool | int64 | float64 | string
}

// State is a type-erased Cell used by graph and control plane.
type State interface {
	Name() string
	Kind() string
	Description() string
	Permissions() Permissions
	// ExternalPermission is the effective control plane permission,
	// restricted by all cells sharing the value.
	ExternalPermission() Permission
	Shared() bool
	Text() string
	// ValidateText reports if text can be set without changing the value.
	ValidateText(s string) error
	SetText(s string) error

	clone(external Permission) State
	share(master State) error
	unshare()
}

type storage[T Value] struct {
	lock  SpinLock
	value T
}

// Cell is a state of a processor. Value access is serialized by a spin
// lock of its storage which is replaced when cell is shared.
type Cell[T Value] struct {
	name  string
	desc  string
	perm  Permissions
	store atomic.Pointer[storage[T]]
	track atomic.Pointer[tracker]
	// cache is the value seen by the last Changed call.
	cache  T
	shared atomic.Bool
}

// NewCell returns a cell holding v.
func NewCell[T Value](name string, v T, perm Permissions, desc string) *Cell[T] {
	c := &Cell[T]{
		name:  name,
		desc:  desc,
		perm:  perm,
		cache: v,
	}
	c.store.Store(&storage[T]{value: v})
	c.track.Store(newTracker(perm.External))
	return c
}

// Name returns cell name.
func (c *Cell[T]) Name() string {
	return c.name
}

// Kind returns name of value type.
func (c *Cell[T]) Kind() string {
	var v T
	switch any(v).(type) {
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	}
	return "string"
}

// Description returns cell description.
func (c *Cell[T]) Description() string {
	return c.desc
}

// Permissions returns declared permissions.
func (c *Cell[T]) Permissions() Permissions {
	return c.perm
}

// ExternalPermission implements State.
func (c *Cell[T]) ExternalPermission() Permission {
	return c.track.Load().effective()
}

// Shared reports if cell delegates its value to an alias.
func (c *Cell[T]) Shared() bool {
	return c.shared.Load()
}

// Get returns current value.
func (c *Cell[T]) Get() T {
	s := c.store.Load()
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value
}

// Set replaces current value.
func (c *Cell[T]) Set(v T) {
	s := c.store.Load()
	s.lock.Lock()
	s.value = v
	s.lock.Unlock()
}

// Exchange replaces current value and returns the previous one.
func (c *Cell[T]) Exchange(v T) T {
	s := c.store.Load()
	s.lock.Lock()
	defer s.lock.Unlock()
	old := s.value
	s.value = v
	return old
}

// Changed returns current value and reports if it differs from the value
// returned by the previous call. It's meant for the owning processor
// only.
func (c *Cell[T]) Changed() (T, bool) {
	s := c.store.Load()
	s.lock.Lock()
	defer s.lock.Unlock()
	changed := s.value != c.cache
	c.cache = s.value
	return s.value, changed
}

// Text returns current value as text.
func (c *Cell[T]) Text() string {
	switch v := any(c.Get()).(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	}
	return ""
}

// ValidateText parses text without setting the value.
func (c *Cell[T]) ValidateText(s string) error {
	_, err := c.parse(s)
	return err
}

// SetText parses text and sets the value.
func (c *Cell[T]) SetText(s string) error {
	v, err := c.parse(s)
	if err != nil {
		return err
	}
	c.Set(v)
	return nil
}

func (c *Cell[T]) parse(s string) (T, error) {
	var (
		v   T
		err error
	)
	switch p := any(&v).(type) {
	case *bool:
		*p, err = strconv.ParseBool(s)
	case *int64:
		*p, err = strconv.ParseInt(s, 10, 64)
	case *float64:
		*p, err = strconv.ParseFloat(s, 64)
	case *string:
		*p = s
	}
	if err != nil {
		return v, fmt.Errorf("state %s: invalid %s value %q: %w", c.name, c.Kind(), s, err)
	}
	return v, nil
}

// clone returns a standalone cell with a copy of the value and its own
// tracker of external permission.
func (c *Cell[T]) clone(external Permission) State {
	perm := c.perm
	perm.External = external
	return NewCell(c.name, c.Get(), perm, c.desc)
}

func (c *Cell[T]) share(master State) error {
	m, ok := master.(*Cell[T])
	if !ok {
		return fmt.Errorf("%w: %s is %s, shared value is %s", ErrKind, c.name, c.Kind(), master.Kind())
	}
	if !c.shared.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", c.name, ErrShared)
	}
	t := m.track.Load()
	t.add(c.perm.External)
	c.track.Store(t)
	c.store.Store(m.store.Load())
	return nil
}

// unshare snapshots the shared value into private storage.
func (c *Cell[T]) unshare() {
	if !c.shared.CompareAndSwap(true, false) {
		return
	}
	v := c.Get()
	c.store.Store(&storage[T]{value: v})
	c.track.Load().remove(c.perm.External)
	c.track.Store(newTracker(c.perm.External))
}
