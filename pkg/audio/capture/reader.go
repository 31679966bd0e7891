// ABOUTME: Raw PCM capture from a reader, a file or stdin
// ABOUTME: Bytes are passed through untouched in the configured format
package capture

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// ReaderSource reads raw PCM from an io.ReadCloser
type ReaderSource struct {
	name   string
	rc     io.ReadCloser
	format audio.Format
	open   func() (io.ReadCloser, error)
	pace   pacer
}

// NewReaderSource wraps an already opened stream
func NewReaderSource(name string, rc io.ReadCloser, format audio.Format) *ReaderSource {
	return &ReaderSource{
		name:   name,
		format: format,
		open:   func() (io.ReadCloser, error) { return rc, nil },
	}
}

// NewFileSource reads raw PCM from the file at path, looping at end of file
func NewFileSource(path string, format audio.Format, paced bool) *ReaderSource {
	return &ReaderSource{
		name:   path,
		format: format,
		open:   func() (io.ReadCloser, error) { return os.Open(path) },
		pace:   pacer{enabled: paced, bytesPerSec: format.BytesPerSecond()},
	}
}

func (s *ReaderSource) Open() error {
	if s.rc != nil {
		return nil
	}
	rc, err := s.open()
	if err != nil {
		return &streamerr.SourceError{Device: s.name, Err: errors.Wrap(err, "open")}
	}
	s.rc = rc
	s.pace.reset()
	log.Debugf("capture: opened %s (%s)", s.name, s.format)
	return nil
}

func (s *ReaderSource) Read(buf []byte) (int, error) {
	if s.rc == nil {
		return 0, nil
	}

	want := s.format.Whole(len(buf))
	n, err := io.ReadFull(s.rc, buf[:want])
	if err == io.ErrUnexpectedEOF || (err == io.EOF && n == 0) {
		if seeker, ok := s.rc.(io.Seeker); ok {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return n, &streamerr.SourceError{Device: s.name, Err: errors.Wrap(serr, "rewind")}
			}
			log.Debugf("capture: looping %s", s.name)
			return s.format.Whole(n), nil
		}
		if n == 0 {
			return 0, io.EOF
		}
		return s.format.Whole(n), nil
	}
	if err != nil {
		return n, &streamerr.SourceError{Device: s.name, Err: err}
	}

	s.pace.wait(n)
	return n, nil
}

func (s *ReaderSource) Format() audio.Format { return s.format }

func (s *ReaderSource) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}
