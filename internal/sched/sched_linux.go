//go:build linux

// ABOUTME: SCHED_FIFO elevation on Linux
// ABOUTME: Uses sched_getattr/sched_setattr on the locked OS thread
package sched

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var geteuid = os.Geteuid

func maxFIFOPriority() (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, unix.SCHED_FIFO, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// Elevate switches the calling goroutine's OS thread to SCHED_FIFO at one
// below the maximum priority. The goroutine stays locked to its thread
// until restore runs. Without root it logs and returns a no-op restore.
func Elevate() (Restore, error) {
	if geteuid() != 0 {
		log.Info("Not running as root, keeping normal scheduling")
		return noop, nil
	}

	runtime.LockOSThread()

	orig, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return noop, errors.Wrap(err, "sched_getattr")
	}

	maxPrio, err := maxFIFOPriority()
	if err != nil {
		runtime.UnlockOSThread()
		return noop, errors.Wrap(err, "sched_get_priority_max")
	}

	attr := *orig
	attr.Size = unix.SizeofSchedAttr
	attr.Policy = unix.SCHED_FIFO
	attr.Priority = uint32(maxPrio - 1)
	attr.Nice = 0
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		runtime.UnlockOSThread()
		return noop, errors.Wrap(err, "sched_setattr")
	}

	log.Infof("Using SCHED_FIFO scheduling at priority %d", attr.Priority)

	return once(func() {
		orig.Size = unix.SizeofSchedAttr
		if err := unix.SchedSetAttr(0, orig, 0); err != nil {
			log.Warnf("Restoring scheduling policy failed: %v", err)
		} else {
			log.Debug("Restored original scheduling policy")
		}
		runtime.UnlockOSThread()
	}), nil
}
