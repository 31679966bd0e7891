// ABOUTME: TCP transport socket for streaming-server connections
// ABOUTME: Connect, readiness probes, non-retrying read/write, handle duplication
package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

const (
	// DefaultConnectTimeout bounds Open
	DefaultConnectTimeout = 10 * time.Second
)

// TCPSocket is a client TCP connection to host:port.
// Pass it by pointer; use Dup for a second handle to the same connection.
type TCPSocket struct {
	host           string
	port           int
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	mu   sync.Mutex
	conn *net.TCPConn
	// peeked holds a byte consumed by a deadline-based CanRead probe
	peeked []byte
}

// Option configures a TCPSocket
type Option func(*TCPSocket)

// WithConnectTimeout sets the dial timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(s *TCPSocket) { s.connectTimeout = d }
}

// WithReadTimeout makes Read return 0, nil when no data arrives within d
func WithReadTimeout(d time.Duration) Option {
	return func(s *TCPSocket) { s.readTimeout = d }
}

// WithWriteTimeout makes Write return a short count when the peer
// does not accept data within d
func WithWriteTimeout(d time.Duration) Option {
	return func(s *TCPSocket) { s.writeTimeout = d }
}

// NewTCPSocket creates an unopened socket for host:port
func NewTCPSocket(host string, port int, opts ...Option) *TCPSocket {
	s := &TCPSocket{
		host:           host,
		port:           port,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host returns the remote host name
func (s *TCPSocket) Host() string { return s.host }

// Port returns the remote port
func (s *TCPSocket) Port() int { return s.port }

// Addr returns host:port
func (s *TCPSocket) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// IsOpen reports whether the socket holds a live connection
func (s *TCPSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Open resolves and connects. Returns false, nil if already open.
func (s *TCPSocket) Open() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return false, nil
	}

	addrs, err := net.LookupHost(s.host)
	if err != nil || len(addrs) == 0 {
		if err == nil {
			err = pkgerrors.New("no addresses")
		}
		return false, &streamerr.ConnectError{Host: s.host, Port: s.port, Err: pkgerrors.Wrap(err, "resolve")}
	}

	c, err := net.DialTimeout("tcp", s.Addr(), s.connectTimeout)
	if err != nil {
		return false, &streamerr.ConnectError{Host: s.host, Port: s.port, Err: err}
	}

	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return false, &streamerr.ConnectError{Host: s.host, Port: s.port, Err: pkgerrors.New("not a TCP connection")}
	}
	tc.SetNoDelay(true)

	s.conn = tc
	s.peeked = nil
	log.Debugf("transport: connected to %s", s.Addr())
	return true, nil
}

func (s *TCPSocket) current() *net.TCPConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func probeTimeout(sec, usec int) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}

// CanRead waits up to sec+usec for data (or EOF) to be readable
func (s *TCPSocket) CanRead(sec, usec int) (bool, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return false, nil
	}
	if len(s.peeked) > 0 {
		s.mu.Unlock()
		return true, nil
	}
	conn := s.conn
	s.mu.Unlock()

	ready, err := s.waitReadable(conn, probeTimeout(sec, usec))
	if err != nil {
		return false, &streamerr.IOError{Op: "can-read", Err: err}
	}
	return ready, nil
}

// CanWrite waits up to sec+usec for the socket to accept data
func (s *TCPSocket) CanWrite(sec, usec int) (bool, error) {
	conn := s.current()
	if conn == nil {
		return false, nil
	}

	ready, err := waitWritable(conn, probeTimeout(sec, usec))
	if err != nil {
		return false, &streamerr.IOError{Op: "can-write", Err: err}
	}
	return ready, nil
}

// Read returns what the peer has sent. 0, nil means the read timed out;
// 0, io.EOF means the peer closed the connection.
func (s *TCPSocket) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return 0, nil
	}
	if len(s.peeked) > 0 {
		n := copy(buf, s.peeked)
		s.peeked = s.peeked[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	if s.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	n, err := conn.Read(buf)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return n, io.EOF
	case isTimeout(err):
		return n, nil
	default:
		return n, &streamerr.IOError{Op: "read", Err: err}
	}
}

// Write sends buf and returns the number of bytes accepted. On write
// timeout the short count is returned with a nil error; nothing is retried.
func (s *TCPSocket) Write(buf []byte) (int, error) {
	conn := s.current()
	if conn == nil || len(buf) == 0 {
		return 0, nil
	}

	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(buf)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, &streamerr.IOError{Op: "write", Err: err}
	}
	return n, nil
}

// Flush is a no-op; TCP writes are not buffered in user space
func (s *TCPSocket) Flush() error { return nil }

// Close closes the connection. Safe to call more than once.
func (s *TCPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.peeked = nil
	log.Debugf("transport: closed %s", s.Addr())
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &streamerr.IOError{Op: "close", Err: err}
	}
	return nil
}

// Dup returns a new socket sharing the same connection through a
// duplicated OS handle. Closing one does not close the other.
func (s *TCPSocket) Dup() (*TCPSocket, error) {
	conn := s.current()
	dup := &TCPSocket{
		host:           s.host,
		port:           s.port,
		connectTimeout: s.connectTimeout,
		readTimeout:    s.readTimeout,
		writeTimeout:   s.writeTimeout,
	}
	if conn == nil {
		return dup, nil
	}

	f, err := conn.File()
	if err != nil {
		return dup, &streamerr.IOError{Op: "dup", Err: err}
	}
	defer f.Close()

	c, err := net.FileConn(f)
	if err != nil {
		return dup, &streamerr.IOError{Op: "dup", Err: err}
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return dup, &streamerr.IOError{Op: "dup", Err: pkgerrors.New("not a TCP connection")}
	}

	dup.conn = tc
	return dup, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
