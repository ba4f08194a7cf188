//go:build !linux

package graph

import (
	"errors"
	"runtime"
)

func applyThreadPolicy(adv Advanced) error {
	if (adv.Core != nil && *adv.Core >= 0) || adv.Priority > 0 {
		return errors.New("thread policy is not supported on " + runtime.GOOS)
	}
	return nil
}
