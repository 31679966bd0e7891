// ABOUTME: Generic encoder session state machine
// ABOUTME: Format conversion, resampling, codec drain and sink delivery
package encode

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/audio/resample"
	"github.com/Sendspin/sendspin-caster/pkg/sink"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// Stats counts what a session delivered
type Stats struct {
	// Units is the number of stream units handed to the sink
	Units uint64
	// Bytes is the number of bytes the sink accepted
	Bytes uint64
	// PartialWrites counts units the sink did not fully accept
	PartialWrites uint64
	// Frames is the number of sample frames submitted to the codec
	Frames uint64
}

// Session is an Encoder built from a Codec back-end and a Sink.
// It is not safe for concurrent writers.
type Session struct {
	cfg   Config
	sink  sink.Sink
	codec Codec

	ratio     float64
	resampler *resample.Resampler

	mu    sync.Mutex
	open  bool
	stats Stats

	in  []int16
	out []int16
}

var _ Encoder = (*Session)(nil)

// New validates cfg and builds a closed session writing to s
func New(s sink.Sink, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	if cfg.Input.BitDepth != 8 && cfg.Input.BitDepth != 16 {
		return nil, &streamerr.UnsupportedFormatError{Field: "bits_per_sample", Value: cfg.Input.BitDepth, Msg: "only 8 and 16 bit input"}
	}
	if cfg.Input.Channels != 1 && cfg.Input.Channels != 2 {
		return nil, &streamerr.UnsupportedFormatError{Field: "channels", Value: cfg.Input.Channels, Msg: "only mono and stereo input"}
	}
	if cfg.OutChannels != cfg.Input.Channels {
		return nil, &streamerr.UnsupportedFormatError{Field: "out_channels", Value: cfg.OutChannels, Msg: "channel count conversion not supported"}
	}
	if cfg.Input.SampleRate <= 0 || cfg.OutSampleRate <= 0 {
		return nil, &streamerr.UnsupportedFormatError{Field: "sample_rate", Value: cfg.Input.SampleRate, Msg: "sample rate must be positive"}
	}
	if cfg.Quality < 0 || cfg.Quality > 1 {
		return nil, &streamerr.UnsupportedFormatError{Field: "quality", Value: int(cfg.Quality * 100), Msg: "quality must be within 0..1"}
	}

	factory, err := lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}
	codec, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:   cfg,
		sink:  s,
		codec: codec,
		ratio: float64(cfg.OutSampleRate) / float64(cfg.Input.SampleRate),
	}, nil
}

// Config returns the effective configuration
func (s *Session) Config() Config { return s.cfg }

// ContentType returns the MIME type of the encoded stream
func (s *Session) ContentType() string { return s.codec.ContentType() }

// Ratio returns outSampleRate / inSampleRate
func (s *Session) Ratio() float64 { return s.ratio }

// NeedsResampling reports whether input and output rates differ
func (s *Session) NeedsResampling() bool { return s.cfg.OutSampleRate != s.cfg.Input.SampleRate }

// HasResampler reports whether an open session is resampling
func (s *Session) HasResampler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resampler != nil
}

// IsOpen reports whether the session is streaming
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Stats returns a snapshot of the delivery counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Open connects the sink, initializes the codec and writes its headers.
// An already open session is closed and reopened.
func (s *Session) Open() error {
	if s.IsOpen() {
		if err := s.Close(); err != nil {
			log.Warnf("encoder %s: close before reopen: %v", s.cfg.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sink.Open(); err != nil {
		return err
	}

	headers, err := s.codec.Open()
	if err != nil {
		s.sink.Close()
		return err
	}

	if err := s.drain(headers); err != nil {
		s.codec.Close()
		s.sink.Close()
		return err
	}

	s.resampler = nil
	if s.NeedsResampling() {
		s.resampler = resample.New(s.cfg.Input.SampleRate, s.cfg.OutSampleRate, s.cfg.Input.Channels, resample.Quadratic)
	}

	s.open = true
	log.Debugf("encoder %s: opened %s %s -> %dHz/%dch, %s %dkbps",
		s.cfg.Name, s.cfg.Codec, s.cfg.Input, s.cfg.OutSampleRate, s.cfg.OutChannels, s.cfg.Mode, s.cfg.Bitrate)
	return nil
}

// Write converts, resamples and encodes whole frames of buf.
// Returns the bytes consumed; a trailing partial frame is dropped.
func (s *Session) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || len(buf) == 0 {
		return 0, nil
	}

	n := s.cfg.Input.Whole(len(buf))
	if n == 0 {
		return 0, nil
	}
	ch := s.cfg.Input.Channels
	frames := n / s.cfg.Input.FrameSize()

	if cap(s.in) < frames*ch {
		s.in = make([]int16, frames*ch)
	}
	in := s.in[:frames*ch]
	audio.ToInt16(in, buf[:n], s.cfg.Input)

	samples := in
	if s.resampler != nil {
		outFrames := s.resampler.NextOutputFrames(frames)
		if cap(s.out) < outFrames*ch {
			s.out = make([]int16, outFrames*ch)
		}
		out := s.out[:outFrames*ch]
		converted := s.resampler.Resample(in, out)
		samples = out[:converted*ch]
	}

	s.stats.Frames += uint64(len(samples) / ch)

	units, err := s.codec.Encode(samples)
	if err != nil {
		return n, errors.Wrapf(err, "encoder %s", s.cfg.Name)
	}
	if err := s.drain(units); err != nil {
		return n, err
	}
	return n, nil
}

// Flush pads the final block, drains it and flushes the sink
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	units, err := s.codec.Finish()
	if err != nil {
		return errors.Wrapf(err, "encoder %s: finish", s.cfg.Name)
	}
	if err := s.drain(units); err != nil {
		return err
	}
	return s.sink.Flush()
}

// Close flushes, releases the codec and closes the sink
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false

	var firstErr error
	if err := s.flushLocked(); err != nil {
		firstErr = err
	}
	if err := s.codec.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.resampler = nil
	log.Debugf("encoder %s: closed (%d units, %d bytes)", s.cfg.Name, s.stats.Units, s.stats.Bytes)
	return firstErr
}

// drain writes every unit, header before body. A unit the sink does not
// fully accept is logged once and the rest of it is discarded.
func (s *Session) drain(units []Unit) error {
	for _, u := range units {
		written := 0
		for _, part := range [][]byte{u.Header, u.Body} {
			if len(part) == 0 {
				continue
			}
			n, err := s.sink.Write(part)
			written += n
			if err != nil {
				s.stats.Bytes += uint64(written)
				return err
			}
			if n < len(part) {
				break
			}
		}

		s.stats.Units++
		s.stats.Bytes += uint64(written)
		if written < u.Len() {
			s.stats.PartialWrites++
			log.WithFields(log.Fields{
				"event":   "PartialWriteWarning",
				"output":  s.cfg.Name,
				"written": written,
				"missing": u.Len() - written,
			}).Warn("sink accepted only part of a stream unit; remainder dropped")
		}
	}
	return nil
}
