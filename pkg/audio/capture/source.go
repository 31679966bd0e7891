// ABOUTME: Audio capture source abstraction
// ABOUTME: Source interface and backend factory for live PCM input
package capture

import (
	"io"
	"os"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// Backend names accepted by New
const (
	BackendTone      = "tone"
	BackendFFmpeg    = "ffmpeg"
	BackendPortAudio = "portaudio"
	BackendFile      = "file"
	BackendMP3       = "mp3"
	BackendFLAC      = "flac"
	BackendStdin     = "stdin"
)

// Source provides raw interleaved PCM bytes in a fixed Format
type Source interface {
	// Open acquires the device. Must be called before Read.
	Open() error
	// Read fills buf with PCM bytes. Returns bytes read; 0, nil means no data yet.
	Read(buf []byte) (int, error)
	// Format returns the sample format produced by Read
	Format() audio.Format
	// Close releases the device
	Close() error
}

// Config selects and parameterizes a capture backend
type Config struct {
	Backend string
	// Device is the backend-specific device name or file path
	Device string
	Format audio.Format
	// Paced throttles generated/file sources to real time
	Paced bool
}

// New builds the Source described by cfg. The Source is not opened.
func New(cfg Config) (Source, error) {
	switch cfg.Backend {
	case "", BackendTone:
		return NewToneSource(cfg.Format, 440.0, cfg.Paced), nil
	case BackendFFmpeg:
		return NewFFmpegSource(cfg.Device, cfg.Format), nil
	case BackendPortAudio:
		return NewPortAudioSource(cfg.Device, cfg.Format), nil
	case BackendFile:
		return NewFileSource(cfg.Device, cfg.Format, cfg.Paced), nil
	case BackendMP3:
		return NewMP3Source(cfg.Device, cfg.Paced), nil
	case BackendFLAC:
		return NewFLACSource(cfg.Device, cfg.Paced), nil
	case BackendStdin:
		return NewReaderSource("stdin", io.NopCloser(os.Stdin), cfg.Format), nil
	default:
		return nil, &streamerr.SourceError{
			Device: cfg.Device,
			Err:    errUnknownBackend(cfg.Backend),
		}
	}
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string { return "unknown capture backend: " + string(e) }
