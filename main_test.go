// ABOUTME: Tests for CLI wiring
// ABOUTME: Covers verbosity mapping, flags and the run summary
package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
	"github.com/Sendspin/sendspin-caster/pkg/connector"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		verbosity int
		want      log.Level
	}{
		{0, log.WarnLevel},
		{1, log.InfoLevel},
		{4, log.InfoLevel},
		{5, log.DebugLevel},
		{10, log.DebugLevel},
	}
	for _, tt := range tests {
		if got := levelFor(tt.verbosity); got != tt.want {
			t.Errorf("levelFor(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("sendspin-caster ")) {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestFlagsRegistered(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "verbosity", "duration", "log-file", "no-tui", "profile", "version"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
	if cmd.Flags().ShorthandLookup("c") == nil || cmd.Flags().ShorthandLookup("v") == nil {
		t.Error("missing -c or -v shorthand")
	}
}

func TestStartProfileRejectsUnknown(t *testing.T) {
	if _, err := startProfile("gpu"); err == nil {
		t.Error("expected error for unknown profile mode")
	}
	if p, err := startProfile(""); err != nil || p != nil {
		t.Errorf("expected no profiler, got %v, %v", p, err)
	}
}

func TestPrintSummary(t *testing.T) {
	color.NoColor = true

	report := connector.Report{
		TotalBytes: 1000,
		Cycles:     4,
		Outputs: []connector.OutputReport{
			{Name: "main", Codec: "opus", State: connector.StateClosed, BytesIn: 1000, Stats: encode.Stats{Bytes: 120}},
			{Name: "backup", Codec: "flac", State: connector.StateFailed, BytesIn: 500, Err: errors.New("broken pipe"), Dropped: 2},
		},
	}

	var out bytes.Buffer
	printSummary(&out, report, 2.5)
	got := out.String()

	for _, want := range []string{
		"Transferred 1000 bytes in 4 cycles (2.5s)",
		"main         closed    opus: 1000 bytes in, 120 bytes out",
		"backup       failed    flac: 500 bytes in, 0 bytes out, 2 dropped (broken pipe)",
	} {
		if !bytes.Contains([]byte(got), []byte(want)) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}
