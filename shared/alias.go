package shared

import (
	"fmt"
	"sync"
)

// Alias merges cells of several processors into one value. The first
// added cell is cloned into the authoritative one, every member shares
// its storage.
type Alias struct {
	name       string
	desc       string
	permission Permission

	mu      sync.Mutex
	master  State
	refs    []string
	members map[string]State
}

// NewAlias returns an empty alias. Permission restricts external access
// to the shared value.
func NewAlias(name string, permission Permission, desc string) *Alias {
	return &Alias{
		name:       name,
		desc:       desc,
		permission: permission,
		members:    make(map[string]State),
	}
}

// Name returns alias name.
func (a *Alias) Name() string {
	return a.name
}

// Description returns alias description.
func (a *Alias) Description() string {
	return a.desc
}

// Permission returns declared external permission of the alias.
func (a *Alias) Permission() Permission {
	return a.permission
}

// State returns authoritative state or nil if alias is empty.
func (a *Alias) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.master
}

// Members returns references of member states in the order they were
// added.
func (a *Alias) Members() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	refs := make([]string, len(a.refs))
	copy(refs, a.refs)
	return refs
}

// AddState makes state a member of alias. State must be compatible with
// all current members, otherwise nothing is shared.
func (a *Alias) AddState(ref string, s State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.members[ref]; ok {
		return fmt.Errorf("alias %s: %w: %s", a.name, ErrDuplicate, ref)
	}
	if s.Shared() {
		return fmt.Errorf("alias %s: %s: %w", a.name, ref, ErrShared)
	}
	for _, r := range a.refs {
		m := a.members[r]
		if m.Kind() != s.Kind() {
			return fmt.Errorf("alias %s: %w: %s is %s, %s is %s", a.name, ErrKind, ref, s.Kind(), r, m.Kind())
		}
		if !m.Permissions().Compatible(s.Permissions()) {
			return fmt.Errorf("alias %s: %w: %s (%v) and %s (%v)", a.name, ErrIncompatible, ref, s.Permissions(), r, m.Permissions())
		}
	}
	master := a.master
	if master == nil {
		master = s.clone(a.permission)
	}
	if err := s.share(master); err != nil {
		return fmt.Errorf("alias %s: %w", a.name, err)
	}
	a.master = master
	a.members[ref] = s
	a.refs = append(a.refs, ref)
	return nil
}

// RemoveState makes state standalone again. It keeps the last shared
// value.
func (a *Alias) RemoveState(ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.members[ref]
	if !ok {
		return fmt.Errorf("alias %s: %w: %s", a.name, ErrNotFound, ref)
	}
	s.unshare()
	delete(a.members, ref)
	for i, r := range a.refs {
		if r == ref {
			a.refs = append(a.refs[:i], a.refs[i+1:]...)
			break
		}
	}
	if len(a.refs) == 0 {
		a.master = nil
	}
	return nil
}

// RemoveAllStates makes all members standalone.
func (a *Alias) RemoveAllStates() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.refs {
		a.members[r].unshare()
	}
	a.refs = nil
	a.members = make(map[string]State)
	a.master = nil
}
