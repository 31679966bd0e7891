//go:build !portaudio

// ABOUTME: PortAudio capture stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package capture

import (
	"github.com/pkg/errors"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudioSource capture implementation (stub)
type PortAudioSource struct {
	device string
	format audio.Format
}

// NewPortAudioSource creates a new PortAudio capture source
func NewPortAudioSource(device string, format audio.Format) Source {
	return &PortAudioSource{device: device, format: format}
}

func (p *PortAudioSource) Open() error {
	return &streamerr.SourceError{Device: p.device, Err: errPortAudioDisabled}
}

func (p *PortAudioSource) Read(buf []byte) (int, error) { return 0, errPortAudioDisabled }

func (p *PortAudioSource) Format() audio.Format { return p.format }

func (p *PortAudioSource) Close() error { return nil }
