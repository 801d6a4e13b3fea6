//go:build !linux

package scheduler

import "errors"

func applyThreadHints(worker int, affinity, boost bool) error {
	if affinity || boost {
		return errors.New("thread affinity and priority hints are only supported on linux")
	}
	return nil
}
