// Package capture provides live PCM audio input.
//
// A Source delivers raw interleaved PCM bytes in a fixed audio.Format.
// Backends: a sine test tone, raw PCM from a file or stdin, any ffmpeg
// input device, a looped MP3 file, and PortAudio (build with -tags portaudio).
//
// Example:
//
//	src, err := capture.New(capture.Config{Backend: "tone", Format: format})
//	if err := src.Open(); err != nil { ... }
//	n, err := src.Read(buf)
package capture
