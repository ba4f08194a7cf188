//go:build linux

package graph

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// applyThreadPolicy pins calling thread to a core and sets its real-time
// priority. Thread must be locked.
func applyThreadPolicy(adv Advanced) error {
	var err error
	if adv.Core != nil && *adv.Core >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(*adv.Core)
		if e := unix.SchedSetaffinity(0, &set); e != nil {
			err = multierr.Append(err, fmt.Errorf("pin to core %d: %w", *adv.Core, e))
		}
	}
	if adv.Priority > 0 {
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(adv.Priority),
		}
		if e := unix.SchedSetAttr(0, &attr, 0); e != nil {
			err = multierr.Append(err, fmt.Errorf("set priority %d: %w", adv.Priority, e))
		}
	}
	return err
}
