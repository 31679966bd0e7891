// ABOUTME: Queued fan-out mode
// ABOUTME: One goroutine per encoder fed through a bounded ordered queue
package connector

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// enqueue shares one copy of data with every target queue without blocking.
// Buffers that do not fit wait in the output's backlog, in order; a backlog
// longer than maxOverflows closes that output's session.
func (c *Connector) enqueue(data []byte, targets []*output) {
	shared := make([]byte, len(data))
	copy(shared, data)

	type overflow struct {
		name    string
		err     error
		dropped uint64
	}
	var overflowed []overflow

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, o := range targets {
		if o.state != StateStreaming || o.queueClosed {
			continue
		}
		o.backlog = append(o.backlog, shared)
		o.flushBacklog()

		if len(o.backlog) > c.maxOverflows {
			o.state = StateFailed
			o.err = errors.Wrapf(ErrQueueOverflow, "%d buffers behind a full queue", len(o.backlog))
			o.dropped += uint64(len(o.backlog))
			o.backlog = nil
			o.closeOnExit = true
			o.queueClosed = true
			close(o.queue)
			overflowed = append(overflowed, overflow{name: o.name, err: o.err, dropped: o.dropped})
		}
	}
	c.mu.Unlock()

	for _, o := range overflowed {
		log.WithFields(log.Fields{"output": o.name, "dropped": o.dropped}).
			Errorf("output %s failed: %v", o.name, o.err)
	}
}

// flushBacklog moves waiting buffers into the queue until it is full.
// Caller holds c.mu.
func (o *output) flushBacklog() {
	for len(o.backlog) > 0 {
		select {
		case o.queue <- o.backlog[0]:
			o.backlog[0] = nil
			o.backlog = o.backlog[1:]
		default:
			return
		}
	}
}

// worker drains one output's queue. It closes the encoder itself when the
// connector stopped the session; a normal shutdown leaves closing to Close.
func (c *Connector) worker(o *output) {
	defer c.wg.Done()

	for data := range o.queue {
		c.mu.Lock()
		streaming := o.state == StateStreaming
		c.mu.Unlock()
		if !streaming {
			continue
		}
		c.writeTo(o, data)
	}

	c.mu.Lock()
	closeOnExit := o.closeOnExit
	reason := o.err
	c.mu.Unlock()

	if closeOnExit {
		if err := o.enc.Close(); err != nil {
			log.Warnf("output %s: close after %v: %v", o.name, reason, err)
		}
	}
}
