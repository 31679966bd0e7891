// ABOUTME: Main caster application orchestration
// ABOUTME: Runs the pipeline with scheduling, status feed and TUI around it
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/internal/config"
	"github.com/Sendspin/sendspin-caster/internal/sched"
	"github.com/Sendspin/sendspin-caster/internal/status"
	"github.com/Sendspin/sendspin-caster/internal/ui"
	"github.com/Sendspin/sendspin-caster/internal/version"
	"github.com/Sendspin/sendspin-caster/pkg/connector"
)

// Options controls the outer surfaces of a run
type Options struct {
	UseTUI bool
	// PublishInterval between status snapshots, default 1s
	PublishInterval time.Duration
}

// Caster runs one configured pipeline
type Caster struct {
	config   *config.Config
	options  Options
	pipeline *Pipeline
	runID    string
	budget   uint64

	status *status.Server
	tui    *ui.TUI
	volume *ui.VolumeControl

	mu      sync.Mutex
	started time.Time
}

// New builds the pipeline described by cfg. Nothing is opened yet.
func New(cfg *config.Config, opts Options) (*Caster, error) {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Second
	}

	p, err := Build(cfg)
	if err != nil {
		return nil, err
	}

	c := &Caster{
		config:   cfg,
		options:  opts,
		pipeline: p,
		runID:    uuid.New().String(),
		budget:   BudgetBytes(p.Source.Format(), cfg.General.Duration),
	}

	if cfg.Status.Enabled {
		c.status = status.NewServer(status.Config{
			Port:       cfg.Status.Port,
			Name:       cfg.Status.Name,
			EnableMDNS: cfg.Status.MDNS,
			RunID:      c.runID,
		})
	}

	if opts.UseTUI {
		if len(p.Monitors) > 0 {
			c.volume = ui.NewVolumeControl()
		}
		c.tui = ui.New(c.volume)
	}

	return c, nil
}

// RunID identifies this run in status snapshots and mDNS records
func (c *Caster) RunID() string { return c.runID }

// Budget returns the number of source bytes to transfer, 0 when unlimited
func (c *Caster) Budget() uint64 { return c.budget }

// StatusServer returns the status feed, nil when disabled
func (c *Caster) StatusServer() *status.Server { return c.status }

// Snapshot returns the current status of the run
func (c *Caster) Snapshot() status.Snapshot {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	meta := status.Meta{
		RunID:   c.runID,
		Version: version.Version,
		Input:   c.pipeline.Source.Format().String(),
		Started: started,
		Budget:  c.budget,
		Targets: c.pipeline.Targets,
	}
	return status.FromReport(meta, c.pipeline.Connector.Report(), time.Now())
}

// Run opens every output, transfers the configured duration and closes
// everything. Cancelling ctx or quitting the TUI ends the run early
// without an error.
func (c *Caster) Run(ctx context.Context) (connector.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()

	conn := c.pipeline.Connector
	if err := conn.Open(); err != nil {
		return conn.Report(), err
	}
	defer conn.Close()

	if c.status != nil {
		if err := c.status.Start(); err != nil {
			log.Warnf("Status feed disabled: %v", err)
			c.status = nil
		} else {
			defer c.status.Stop()
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.publishLoop(ctx)
	}()

	var tuiDone chan struct{}
	if c.tui != nil {
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if err := c.tui.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
			cancel()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handleControls(ctx)
		}()
	}

	transferred, err := c.transfer(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("Stopped after %d bytes", transferred)
		err = nil
	}

	cancel()
	wg.Wait()

	snap := c.Snapshot()
	snap.Done = true
	c.publish(snap)

	if c.tui != nil {
		c.tui.Stop()
		<-tuiDone
	}

	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return conn.Report(), err
}

// transfer runs the capture loop, elevated to real-time scheduling when
// configured. The goroutine stays on one OS thread for the elevation.
func (c *Caster) transfer(ctx context.Context) (uint64, error) {
	g := c.config.General
	if g.Realtime {
		restore, err := sched.Elevate()
		if err != nil {
			log.Warnf("Real-time scheduling unavailable: %v", err)
		}
		defer restore()
	}

	if c.budget == 0 {
		log.Printf("Streaming %s until stopped", c.pipeline.Source.Format())
	} else {
		log.Printf("Streaming %s for %ds (%d bytes)", c.pipeline.Source.Format(), g.Duration, c.budget)
	}
	return c.pipeline.Connector.Transfer(ctx, c.budget, g.ChunkSize, g.MinOutputs, g.MaxOutputs)
}

func (c *Caster) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(c.options.PublishInterval)
	defer ticker.Stop()

	c.publish(c.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publish(c.Snapshot())
		}
	}
}

func (c *Caster) publish(snap status.Snapshot) {
	if c.status != nil {
		c.status.Publish(snap)
	}
	if c.tui != nil {
		c.tui.Update(snap)
	}
}

// handleControls applies TUI input to the running pipeline
func (c *Caster) handleControls(ctx context.Context) {
	var volume <-chan int
	if c.volume != nil {
		volume = c.volume.Changes
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.tui.QuitChan():
			log.Print("Quit requested")
			return
		case v := <-volume:
			for _, m := range c.pipeline.Monitors {
				m.SetVolume(v)
			}
		}
	}
}
