// ABOUTME: MP3 file capture source
// ABOUTME: Decodes an MP3 with go-mp3 and loops it as a live input
package capture

import (
	"io"
	"os"
	"sync"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// MP3Source plays an MP3 file in a loop. go-mp3 always decodes to
// 16-bit little-endian stereo; the sample rate comes from the file.
type MP3Source struct {
	path    string
	paced   bool
	mu      sync.Mutex
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
	pace    pacer
}

// NewMP3Source creates a new MP3 loop source
func NewMP3Source(path string, paced bool) *MP3Source {
	return &MP3Source{
		path:   path,
		paced:  paced,
		format: audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2},
	}
}

// Probe opens the file just long enough to learn its sample rate
func (s *MP3Source) Probe() (audio.Format, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return audio.Format{}, &streamerr.SourceError{Device: s.path, Err: errors.Wrap(err, "open mp3")}
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return audio.Format{}, &streamerr.SourceError{Device: s.path, Err: errors.Wrap(err, "decode mp3")}
	}
	s.format.SampleRate = d.SampleRate()
	return s.format, nil
}

func (s *MP3Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return &streamerr.SourceError{Device: s.path, Err: errors.Wrap(err, "open mp3")}
	}

	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return &streamerr.SourceError{Device: s.path, Err: errors.Wrap(err, "decode mp3")}
	}

	s.file = f
	s.decoder = d
	s.format.SampleRate = d.SampleRate()
	s.pace = pacer{enabled: s.paced, bytesPerSec: s.format.BytesPerSecond()}
	s.pace.reset()

	log.Printf("Loaded MP3: %s (sample rate: %d Hz)", s.path, d.SampleRate())
	return nil
}

func (s *MP3Source) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decoder == nil {
		return 0, nil
	}

	n, err := io.ReadFull(s.decoder, buf[:s.format.Whole(len(buf))])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, &streamerr.SourceError{Device: s.path, Err: err}
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Loop the audio - seek back to start
		if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
			return 0, &streamerr.SourceError{Device: s.path, Err: errors.Wrap(seekErr, "seek to start")}
		}
		d, decErr := mp3.NewDecoder(s.file)
		if decErr != nil {
			return 0, &streamerr.SourceError{Device: s.path, Err: errors.Wrap(decErr, "restart decoder")}
		}
		s.decoder = d
	}

	n = s.format.Whole(n)
	s.pace.wait(n)
	return n, nil
}

func (s *MP3Source) Format() audio.Format { return s.format }

func (s *MP3Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.decoder = nil
	return err
}
