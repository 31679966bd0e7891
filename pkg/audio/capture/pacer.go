// ABOUTME: Real-time pacing for generated and file-backed sources
// ABOUTME: Blocks reads so bytes are delivered no faster than the wall clock
package capture

import (
	"time"
)

type pacer struct {
	enabled     bool
	bytesPerSec int
	start       time.Time
	delivered   int64
}

func (p *pacer) reset() {
	p.start = time.Now()
	p.delivered = 0
}

// wait sleeps until n more bytes are due
func (p *pacer) wait(n int) {
	if !p.enabled || p.bytesPerSec <= 0 {
		return
	}
	due := p.start.Add(time.Duration(float64(p.delivered+int64(n)) / float64(p.bytesPerSec) * float64(time.Second)))
	if d := time.Until(due); d > 0 {
		time.Sleep(d)
	}
	p.delivered += int64(n)
}
