//go:build linux

package scheduler

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

const boostedNice = -5

// applyThreadHints pins the calling OS thread to one CPU and raises its
// priority. The caller must have locked the goroutine to its thread.
func applyThreadHints(worker int, affinity, boost bool) error {
	var errs []error
	if affinity {
		var set unix.CPUSet
		set.Zero()
		set.Set(worker % runtime.NumCPU())
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			errs = append(errs, fmt.Errorf("set affinity: %w", err))
		}
	}
	if boost {
		// Lowering niceness needs CAP_SYS_NICE; failure is reported, not fatal.
		if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), boostedNice); err != nil {
			errs = append(errs, fmt.Errorf("set priority: %w", err))
		}
	}
	return errors.Join(errs...)
}
