// ABOUTME: FLAC file capture source
// ABOUTME: Decodes a FLAC file with mewkiz/flac and loops it as a live input
package capture

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// FLACSource plays a mono or stereo FLAC file in a loop, converted to
// 16-bit little-endian samples at the file's rate
type FLACSource struct {
	path    string
	paced   bool
	mu      sync.Mutex
	stream  *flac.Stream
	format  audio.Format
	srcBits int
	pending []byte
	pace    pacer
}

// NewFLACSource creates a new FLAC loop source
func NewFLACSource(path string, paced bool) *FLACSource {
	return &FLACSource{
		path:   path,
		paced:  paced,
		format: audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2},
	}
}

func (s *FLACSource) sourceErr(err error, msg string) error {
	return &streamerr.SourceError{Device: s.path, Err: errors.Wrap(err, msg)}
}

func (s *FLACSource) openStream() (*flac.Stream, error) {
	stream, err := flac.Open(s.path)
	if err != nil {
		return nil, s.sourceErr(err, "open flac")
	}
	if n := stream.Info.NChannels; n < 1 || n > 2 {
		stream.Close()
		return nil, &streamerr.SourceError{Device: s.path, Err: errors.Errorf("%d channels, want 1 or 2", n)}
	}
	return stream, nil
}

// Probe reads the stream info to learn rate and channel count
func (s *FLACSource) Probe() (audio.Format, error) {
	stream, err := s.openStream()
	if err != nil {
		return audio.Format{}, err
	}
	defer stream.Close()

	s.format.SampleRate = int(stream.Info.SampleRate)
	s.format.Channels = int(stream.Info.NChannels)
	return s.format, nil
}

func (s *FLACSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}

	stream, err := s.openStream()
	if err != nil {
		return err
	}

	s.stream = stream
	s.srcBits = int(stream.Info.BitsPerSample)
	s.format.SampleRate = int(stream.Info.SampleRate)
	s.format.Channels = int(stream.Info.NChannels)
	s.pace = pacer{enabled: s.paced, bytesPerSec: s.format.BytesPerSecond()}
	s.pace.reset()

	log.Printf("Loaded FLAC: %s (%d Hz, %d bit, %d ch)", s.path, s.format.SampleRate, s.srcBits, s.format.Channels)
	return nil
}

// to16 rescales a sample of bits width to 16 bits
func to16(v int32, bits int) int16 {
	switch {
	case bits > 16:
		return int16(v >> uint(bits-16))
	case bits < 16:
		return int16(v << uint(16-bits))
	}
	return int16(v)
}

// decodeFrame appends the next frame to pending. At the end of the file
// it reopens the stream and reports the restart.
func (s *FLACSource) decodeFrame() (bool, error) {
	fr, err := s.stream.ParseNext()
	if err == io.EOF {
		s.stream.Close()
		stream, err := s.openStream()
		if err != nil {
			s.stream = nil
			return true, err
		}
		s.stream = stream
		return true, nil
	}
	if err != nil {
		return false, s.sourceErr(err, "decode flac frame")
	}

	var sample [2]byte
	for i := 0; i < int(fr.BlockSize); i++ {
		for ch := 0; ch < s.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(sample[:], uint16(to16(fr.Subframes[ch].Samples[i], s.srcBits)))
			s.pending = append(s.pending, sample[:]...)
		}
	}
	return false, nil
}

func (s *FLACSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return 0, nil
	}

	want := s.format.Whole(len(buf))
	restarts := 0
	for len(s.pending) < want {
		restarted, err := s.decodeFrame()
		if err != nil {
			return 0, err
		}
		if !restarted {
			restarts = 0
			continue
		}
		if restarts++; restarts > 1 {
			return 0, &streamerr.SourceError{Device: s.path, Err: errors.New("no audio frames")}
		}
	}

	n := copy(buf[:want], s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[n:])]
	s.pace.wait(n)
	return n, nil
}

func (s *FLACSource) Format() audio.Format { return s.format }

func (s *FLACSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	s.pending = nil
	return err
}
