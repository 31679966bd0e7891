//go:build !linux

// ABOUTME: Real-time scheduling fallback
// ABOUTME: Platforms without sched_setattr keep normal scheduling
package sched

import (
	log "github.com/sirupsen/logrus"
)

// Elevate is unavailable on this platform and returns a no-op restore
func Elevate() (Restore, error) {
	log.Info("Real-time scheduling is not supported on this platform")
	return noop, nil
}
