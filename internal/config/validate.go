// ABOUTME: Configuration validation
// ABOUTME: Collects every problem into one error
package config

import (
	"fmt"
	"strings"

	"github.com/Sendspin/sendspin-caster/pkg/audio/capture"
	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
)

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

var backends = map[string]bool{
	capture.BackendTone:      true,
	capture.BackendFFmpeg:    true,
	capture.BackendPortAudio: true,
	capture.BackendFile:      true,
	capture.BackendMP3:       true,
	capture.BackendFLAC:      true,
	capture.BackendStdin:     true,
}

// Validate checks the configuration and returns a *ValidationError
// describing every problem, or nil
func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.General.Duration < 0 {
		v.add("general.duration must not be negative")
	}
	if c.General.ChunkSize <= 0 {
		v.add("general.chunk_size must be positive")
	}
	if c.General.QueueDepth < 0 {
		v.add("general.queue_depth must not be negative")
	}
	if c.General.MaxOverflows < 0 {
		v.add("general.max_overflows must not be negative")
	}
	if c.General.WriteTimeoutMs < 0 {
		v.add("general.write_timeout_ms must not be negative")
	}
	if c.General.MaxOutputs > 0 && c.General.MinOutputs > c.General.MaxOutputs {
		v.add("general.min_outputs %d exceeds max_outputs %d", c.General.MinOutputs, c.General.MaxOutputs)
	}

	if !backends[c.Input.Backend] {
		v.add("input.backend %q is not one of tone, ffmpeg, portaudio, file, mp3, flac, stdin", c.Input.Backend)
	}
	needsDevice := c.Input.Backend == capture.BackendFile || c.Input.Backend == capture.BackendMP3 || c.Input.Backend == capture.BackendFLAC
	if needsDevice && c.Input.Device == "" {
		v.add("input.device is required for the %s backend", c.Input.Backend)
	}
	if c.Input.SampleRate <= 0 {
		v.add("input.sample_rate must be positive")
	}
	if c.Input.BitsPerSample != 8 && c.Input.BitsPerSample != 16 {
		v.add("input.bits_per_sample must be 8 or 16")
	}
	if c.Input.Channels != 1 && c.Input.Channels != 2 {
		v.add("input.channels must be 1 or 2")
	}

	if len(c.Outputs) == 0 {
		v.add("at least one output is required")
	}

	codecs := map[string]bool{}
	for _, name := range encode.Codecs() {
		codecs[name] = true
	}

	seen := map[string]bool{}
	for i, o := range c.Outputs {
		label := fmt.Sprintf("outputs[%d]", i)
		if o.Name == "" {
			v.add("%s: name is required", label)
		} else {
			label = fmt.Sprintf("output %q", o.Name)
			if seen[o.Name] {
				v.add("%s: duplicate name", label)
			}
			seen[o.Name] = true
		}

		if !codecs[o.Codec] {
			v.add("%s: unknown codec %q", label, o.Codec)
		}
		if _, err := encode.ParseBitrateMode(o.BitrateMode); err != nil {
			v.add("%s: %v", label, err)
		}
		if o.Quality < 0 || o.Quality > 1 {
			v.add("%s: quality must be within 0..1", label)
		}

		for _, f := range []struct{ key, value string }{
			{"stream_name", o.StreamName},
			{"description", o.Description},
			{"genre", o.Genre},
			{"url", o.URL},
			{"mount", o.Mount},
			{"user", o.User},
			{"dump_file", o.DumpFile},
		} {
			if strings.ContainsAny(f.value, "\r\n") {
				v.add("%s: %s must be a single line", label, f.key)
			}
		}

		switch o.ServerType {
		case TypeIcecast2, TypeIcecast, TypeShoutcast:
			if o.Host == "" {
				v.add("%s: host is required", label)
			}
			if o.Port <= 0 || o.Port > 65535 {
				v.add("%s: port must be within 1..65535", label)
			}
			if o.Mount == "" && o.ServerType != TypeShoutcast {
				v.add("%s: mount is required", label)
			}
			if o.Password == "" {
				v.add("%s: password is required", label)
			}
		case TypeFile:
			if o.File == "" {
				v.add("%s: file is required", label)
			}
		case TypeMonitor:
			if o.Volume < 0 || o.Volume > 100 {
				v.add("%s: volume must be within 0..100", label)
			}
		default:
			v.add("%s: unknown server_type %q", label, o.ServerType)
		}
	}

	if c.Status.Enabled && (c.Status.Port < 0 || c.Status.Port > 65535) {
		v.add("status.port must be within 0..65535")
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}
