// ABOUTME: Run report for the connector
// ABOUTME: Per-output outcome and aggregate byte counts
package connector

import (
	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
)

// OutputReport is the outcome of one output
type OutputReport struct {
	Name    string
	Codec   string
	State   State
	Err     error
	BytesIn uint64
	Cycles  uint64
	// Dropped counts buffers lost to a full queue
	Dropped uint64
	Stats   encode.Stats
}

// Report summarizes a run
type Report struct {
	Outputs    []OutputReport
	TotalBytes uint64
	Cycles     uint64
}

// Live returns how many outputs are streaming
func (r Report) Live() int {
	n := 0
	for _, o := range r.Outputs {
		if o.State == StateStreaming {
			n++
		}
	}
	return n
}

type statser interface {
	Stats() encode.Stats
}

type configurer interface {
	Config() encode.Config
}

// Report returns a snapshot of the run so far
func (c *Connector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{TotalBytes: c.total, Cycles: c.cycles}
	for _, o := range c.outputs {
		or := OutputReport{
			Name:    o.name,
			State:   o.state,
			Err:     o.err,
			BytesIn: o.bytesIn,
			Cycles:  o.cycles,
			Dropped: o.dropped,
		}
		if s, ok := o.enc.(statser); ok {
			or.Stats = s.Stats()
		}
		if cf, ok := o.enc.(configurer); ok {
			or.Codec = cf.Config().Codec
		}
		r.Outputs = append(r.Outputs, or)
	}
	return r
}
