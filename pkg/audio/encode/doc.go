// ABOUTME: Audio encoder package
// ABOUTME: Encoder sessions and codec back-ends for live streams
// Package encode turns captured PCM into encoded streams.
//
// A Session owns one codec back-end and one sink. It converts the capture
// format to int16, resamples when the output rate differs, encodes, and
// writes every finished stream unit to the sink, header first.
//
// Back-ends: "opus" (Ogg/Opus), "flac" and "pcm" (16-bit linear).
//
// Example:
//
//	s, err := encode.New(sink, encode.Config{Codec: "opus", Input: format, OutSampleRate: 48000, Bitrate: 128})
//	if err := s.Open(); err != nil { ... }
//	s.Write(pcm)
//	s.Close()
package encode
