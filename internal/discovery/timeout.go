// ABOUTME: Query timeout helper for mDNS browsing
// ABOUTME: Converts whole seconds to a duration with a sane floor
package discovery

import "time"

func secondsDuration(sec int) time.Duration {
	if sec <= 0 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}
