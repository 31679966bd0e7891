// ABOUTME: Stateful resampler for converting audio sample rates
// ABOUTME: Quadratic or linear interpolation with history carried across chunks
package resample

import "math"

// Mode selects the interpolation used between input frames
type Mode int

const (
	// Quadratic interpolates through three neighbouring frames (high quality)
	Quadratic Mode = iota
	// Linear interpolates between two neighbouring frames
	Linear
)

func (m Mode) String() string {
	if m == Linear {
		return "linear"
	}
	return "quadratic"
}

// historyFrames is how many trailing input frames are kept between calls
const historyFrames = 2

// Resampler converts interleaved int16 audio from one rate to another.
// The ratio is fixed at construction; build a new Resampler to change rates.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	mode       Mode
	ratio      float64 // outputRate / inputRate

	history []int16 // historyFrames frames, interleaved

	// consumed and produced count frames since New or Reset; together they
	// fix the interpolation phase of the next output frame
	consumed int64
	produced int64
}

// New creates a new resampler
func New(inputRate, outputRate, channels int, mode Mode) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		mode:       mode,
		ratio:      float64(outputRate) / float64(inputRate),
		history:    make([]int16, historyFrames*channels),
	}
}

// Ratio returns outputRate / inputRate
func (r *Resampler) Ratio() float64 { return r.ratio }

// Channels returns the channel count the resampler was built for
func (r *Resampler) Channels() int { return r.channels }

// Mode returns the interpolation mode
func (r *Resampler) Mode() Mode { return r.mode }

// OutputFrames returns floor(inputFrames * outputRate / inputRate)
func (r *Resampler) OutputFrames(inputFrames int) int {
	return int(int64(inputFrames) * int64(r.outputRate) / int64(r.inputRate))
}

// NextOutputFrames returns how many frames the next Resample call produces
// for inputFrames of input. It is OutputFrames(inputFrames) or one more,
// depending on the phase carried over from earlier calls.
func (r *Resampler) NextOutputFrames(inputFrames int) int {
	end := r.consumed + int64(inputFrames)
	in, out := int64(r.inputRate), int64(r.outputRate)
	// output frame J is due once J*in < end*out
	available := (end*out + in - 1) / in
	if n := available - r.produced; n > 0 {
		return int(n)
	}
	return 0
}

// Resample converts input frames into at most len(output)/channels output
// frames. input and output are interleaved. Returns the number of output
// frames produced; size output with NextOutputFrames to keep up.
//
// The output lags the input by one frame so every interpolation point is
// available; the last frames of each call are kept for the next one, and
// the fractional position runs on across calls.
func (r *Resampler) Resample(input []int16, output []int16) int {
	ch := r.channels
	inFrames := len(input) / ch
	if inFrames == 0 || len(output) < ch {
		return 0
	}
	outFrames := r.NextOutputFrames(inFrames)
	if limit := len(output) / ch; outFrames > limit {
		outFrames = limit
	}

	// Input frame index k lives at buffer position k+historyFrames
	total := inFrames + historyFrames
	at := func(pos, c int) int16 {
		if pos > total-1 {
			pos = total - 1
		}
		if pos < 0 {
			pos = 0
		}
		if pos < historyFrames {
			return r.history[pos*ch+c]
		}
		return input[(pos-historyFrames)*ch+c]
	}

	in, out := int64(r.inputRate), int64(r.outputRate)
	for j := 0; j < outFrames; j++ {
		// absolute time of output frame J is J*in/out input frames; the
		// buffer holds the input of this call from historyFrames on
		num := (r.produced+int64(j))*in - r.consumed*out
		p := float64(num)/float64(out) + 1
		i := int(math.Floor(p))
		x := p - float64(i)

		for c := 0; c < ch; c++ {
			var v float64
			y1 := float64(at(i, c))
			y2 := float64(at(i+1, c))
			if r.mode == Linear {
				v = y1 + x*(y2-y1)
			} else {
				y0 := float64(at(i-1, c))
				v = y1 + x*(y2-y0)/2 + x*x*(y2-2*y1+y0)/2
			}
			output[j*ch+c] = clip16(v)
		}
	}

	// Keep the trailing frames for continuity with the next chunk
	if inFrames >= historyFrames {
		copy(r.history, input[(inFrames-historyFrames)*ch:inFrames*ch])
	} else {
		copy(r.history, r.history[inFrames*ch:])
		copy(r.history[(historyFrames-inFrames)*ch:], input[:inFrames*ch])
	}

	r.consumed += int64(inFrames)
	r.produced += int64(outFrames)
	return outFrames
}

// Reset clears the history and phase before an unrelated stream
func (r *Resampler) Reset() {
	for i := range r.history {
		r.history[i] = 0
	}
	r.consumed = 0
	r.produced = 0
}

func clip16(v float64) int16 {
	if v >= 32767 {
		return 32767
	}
	if v <= -32768 {
		return -32768
	}
	if v < 0 {
		return int16(v - 0.5)
	}
	return int16(v + 0.5)
}
