// ABOUTME: Audio resampling package using quadratic or linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// A Resampler has a fixed ratio for its whole life. Quadratic mode
// interpolates through three neighbouring frames; Linear through two.
// Trailing frames of each chunk are carried into the next call so chunk
// boundaries do not click.
//
// Example:
//
//	r := resample.New(44100, 48000, 2, resample.Quadratic)
//	out := make([]int16, r.OutputFrames(inFrames)*2)
//	frames := r.Resample(input, out)
package resample
