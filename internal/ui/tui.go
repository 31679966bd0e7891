// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it snapshots without blocking
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/sendspin-caster/internal/status"
)

// VolumeControl carries monitor volume changes in percent
type VolumeControl struct {
	Changes chan int
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan int, 10),
	}
}

// NewModel creates a new TUI model. A nil volume control hides the monitor line.
func NewModel(volCtrl *VolumeControl, quit chan struct{}) Model {
	m := Model{
		startTime:  time.Now(),
		volume:     -1,
		volumeCtrl: volCtrl,
		quitChan:   quit,
	}
	if volCtrl != nil {
		m.volume = 100
	}
	return m
}

// TUI manages the caster TUI
type TUI struct {
	program  *tea.Program
	updates  chan status.Snapshot
	quitChan chan struct{}
}

// New creates a TUI. A nil volume control hides the monitor line.
func New(volCtrl *VolumeControl) *TUI {
	t := &TUI{
		updates:  make(chan status.Snapshot, 10),
		quitChan: make(chan struct{}, 1),
	}
	t.program = tea.NewProgram(NewModel(volCtrl, t.quitChan), tea.WithAltScreen())
	return t
}

// Run blocks until the user quits or Stop is called
func (t *TUI) Run() error {
	go func() {
		for snap := range t.updates {
			t.program.Send(SnapshotMsg(snap))
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a snapshot to the TUI
func (t *TUI) Update(snap status.Snapshot) {
	select {
	case t.updates <- snap:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *TUI) Stop() {
	t.program.Quit()
	close(t.updates)
}

// QuitChan signals when the user wants to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
