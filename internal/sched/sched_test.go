// ABOUTME: Tests for scoped scheduling
// ABOUTME: Covers the restore helper and non-root degradation
package sched

import "testing"

func TestRestoreRunsOnce(t *testing.T) {
	calls := 0
	r := once(func() { calls++ })
	r()
	r()
	if calls != 1 {
		t.Errorf("expected restore to run once, ran %d times", calls)
	}
}
