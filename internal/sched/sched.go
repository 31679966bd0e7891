// ABOUTME: Scoped real-time scheduling for the capture loop
// ABOUTME: Elevates the calling thread and hands back a restore function
package sched

import (
	"sync"
)

// Restore undoes an elevation. Safe to call more than once.
type Restore func()

func once(f func()) Restore {
	var o sync.Once
	return func() { o.Do(f) }
}

func noop() {}
