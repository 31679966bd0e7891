// ABOUTME: File dump sink
// ABOUTME: Writes the encoded stream to a local file
package sink

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// FileSink writes encoded bytes to a file
type FileSink struct {
	path   string
	append bool

	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates a sink for path. With appendMode the file is not truncated on Open.
func NewFileSink(path string, appendMode bool) *FileSink {
	return &FileSink{path: path, append: appendMode}
}

// Path returns the dump file location
func (f *FileSink) Path() string { return f.path }

func (f *FileSink) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(f.path, flags, 0o644)
	if err != nil {
		return &streamerr.IOError{Op: "open", Err: errors.Wrapf(err, "dump file %s", f.path)}
	}
	f.file = file
	log.Debugf("sink: dumping to %s", f.path)
	return nil
}

func (f *FileSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, nil
	}
	n, err := f.file.Write(p)
	if err != nil {
		return n, &streamerr.IOError{Op: "write", Err: err}
	}
	return n, nil
}

func (f *FileSink) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return &streamerr.IOError{Op: "flush", Err: err}
	}
	return nil
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return &streamerr.IOError{Op: "close", Err: err}
	}
	return nil
}
