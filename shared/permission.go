// Package shared provides state cells which processors expose to each
// other and to the control plane. Cells of different processors can be
// merged into an alias to share one value.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncompatible is returned when cells can't share a value.
	ErrIncompatible = errors.New("incompatible state permissions")
	// ErrPermission is returned when access is not permitted.
	ErrPermission = errors.New("permission denied")
	// ErrKind is returned when cells hold values of different kinds.
	ErrKind = errors.New("state kinds don't match")
	// ErrDuplicate is returned when state is already a member of alias.
	ErrDuplicate = errors.New("duplicate state")
	// ErrNotFound is returned when state is not a member of alias.
	ErrNotFound = errors.New("state not found")
	// ErrShared is returned when cell is already shared.
	ErrShared = errors.New("state is already shared")
)

// Permission is an access level. Write implies Read.
type Permission int

// Permission levels.
const (
	None Permission = iota
	Read
	Write
)

// ParsePermission parses permission name. Empty string means Write.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, nil
	case "read":
		return Read, nil
	case "write", "":
		return Write, nil
	}
	return None, fmt.Errorf("unknown permission: %q", s)
}

func (p Permission) String() string {
	switch p {
	case None:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Permission(%d)", int(p))
}

// Permissions of a cell: what the owning processor does with it, what
// peer processors sharing it may do and what control plane may do.
type Permissions struct {
	Self     Permission
	Peers    Permission
	External Permission
}

// Compatible reports if two cells may share a value. Both have to accept
// peers and a cell that allows peers only to read can share a value only
// with a cell that reads it.
func (p Permissions) Compatible(o Permissions) bool {
	if p.Peers == None || o.Peers == None {
		return false
	}
	if p.Peers == Read && o.Self != Read {
		return false
	}
	if o.Peers == Read && p.Self != Read {
		return false
	}
	return true
}

func (p Permissions) String() string {
	return fmt.Sprintf("self=%v peers=%v external=%v", p.Self, p.Peers, p.External)
}

// tracker counts external permissions of all cells sharing a value. The
// most restrictive one is effective.
type tracker struct {
	mu     SpinLock
	counts [Write + 1]int
}

func newTracker(p Permission) *tracker {
	t := &tracker{}
	t.add(p)
	return t
}

func (t *tracker) add(p Permission) {
	t.mu.Lock()
	t.counts[p]++
	t.mu.Unlock()
}

func (t *tracker) remove(p Permission) {
	t.mu.Lock()
	if t.counts[p] > 0 {
		t.counts[p]--
	}
	t.mu.Unlock()
}

func (t *tracker) effective() Permission {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := None; p <= Write; p++ {
		if t.counts[p] > 0 {
			return p
		}
	}
	return None
}
