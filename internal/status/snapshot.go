// ABOUTME: Point-in-time status of a caster run
// ABOUTME: Built from the connector report; shared by the TUI and the status feed
package status

import (
	"time"

	"github.com/Sendspin/sendspin-caster/pkg/connector"
)

// Output is the status of one output
type Output struct {
	Name          string `json:"name"`
	Codec         string `json:"codec"`
	Target        string `json:"target"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	BytesIn       uint64 `json:"bytes_in"`
	BytesOut      uint64 `json:"bytes_out"`
	Units         uint64 `json:"units"`
	PartialWrites uint64 `json:"partial_writes"`
	Dropped       uint64 `json:"dropped"`
}

// Snapshot is the status of the whole run
type Snapshot struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version"`
	Input       string    `json:"input"`
	Started     time.Time `json:"started"`
	Uptime      float64   `json:"uptime_secs"`
	Transferred uint64    `json:"transferred"`
	// Budget is the byte target of the run, 0 when unlimited
	Budget  uint64   `json:"budget"`
	Cycles  uint64   `json:"cycles"`
	Live    int      `json:"live"`
	Outputs []Output `json:"outputs"`
	Done    bool     `json:"done"`
}

// Meta is the run-constant part of a Snapshot
type Meta struct {
	RunID   string
	Version string
	Input   string
	Started time.Time
	Budget  uint64
	// Targets maps output name to a printable destination
	Targets map[string]string
}

// FromReport builds a Snapshot at now
func FromReport(meta Meta, r connector.Report, now time.Time) Snapshot {
	s := Snapshot{
		RunID:       meta.RunID,
		Version:     meta.Version,
		Input:       meta.Input,
		Started:     meta.Started,
		Uptime:      now.Sub(meta.Started).Seconds(),
		Transferred: r.TotalBytes,
		Budget:      meta.Budget,
		Cycles:      r.Cycles,
		Live:        r.Live(),
	}
	for _, o := range r.Outputs {
		out := Output{
			Name:          o.Name,
			Codec:         o.Codec,
			Target:        meta.Targets[o.Name],
			State:         o.State.String(),
			BytesIn:       o.BytesIn,
			BytesOut:      o.Stats.Bytes,
			Units:         o.Stats.Units,
			PartialWrites: o.Stats.PartialWrites,
			Dropped:       o.Dropped,
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		s.Outputs = append(s.Outputs, out)
	}
	return s
}

// Progress returns the completed fraction of the budget, or -1 when unlimited
func (s Snapshot) Progress() float64 {
	if s.Budget == 0 {
		return -1
	}
	p := float64(s.Transferred) / float64(s.Budget)
	if p > 1 {
		p = 1
	}
	return p
}
