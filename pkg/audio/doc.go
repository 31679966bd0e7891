// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and raw PCM conversion functions
// Package audio provides the raw PCM types shared by capture, encoding and streaming.
//
// Format describes what a capture device produces: sample rate, bit depth
// (8-bit unsigned or 16-bit signed), channel count and byte order.
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 44100,
//	    BitDepth:   16,
//	    Channels:   2,
//	}
//
//	samples := make([]int16, len(buf)/2)
//	n := audio.ToInt16(samples, buf, format)
package audio
