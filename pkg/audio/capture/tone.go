// ABOUTME: Test tone capture source
// ABOUTME: Generates a sine wave in any supported PCM format
package capture

import (
	"math"
	"sync"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
)

// ToneSource generates a sine test tone
type ToneSource struct {
	format      audio.Format
	frequency   float64
	sampleIndex uint64
	mu          sync.Mutex
	open        bool
	scratch     []int16
	pace        pacer
}

// NewToneSource creates a tone generator at frequency Hz
func NewToneSource(format audio.Format, frequency float64, paced bool) *ToneSource {
	return &ToneSource{
		format:    format,
		frequency: frequency,
		pace:      pacer{enabled: paced, bytesPerSec: format.BytesPerSecond()},
	}
}

func (s *ToneSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.sampleIndex = 0
	s.pace.reset()
	return nil
}

func (s *ToneSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, nil
	}

	n := s.format.Whole(len(buf))
	frames := n / s.format.FrameSize()
	ch := s.format.Channels

	if cap(s.scratch) < frames*ch {
		s.scratch = make([]int16, frames*ch)
	}
	samples := s.scratch[:frames*ch]

	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.format.SampleRate)
		v := int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5) // 50% volume
		for c := 0; c < ch; c++ {
			samples[i*ch+c] = v
		}
	}
	s.sampleIndex += uint64(frames)

	if s.format.BitDepth == 8 {
		for i, v := range samples {
			buf[i] = byte(int(v>>8) + 128)
		}
	} else {
		audio.Int16ToBytes(buf, samples, s.format.BigEndian)
	}

	s.pace.wait(n)
	return n, nil
}

func (s *ToneSource) Format() audio.Format { return s.format }

func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
