// ABOUTME: Streaming-server sink over a transport connection
// ABOUTME: Login handshake, acknowledgement wait and streaming writes
package sink

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
	"github.com/Sendspin/sendspin-caster/pkg/transport"
)

// DefaultHandshakeTimeout bounds the wait for a login acknowledgement
const DefaultHandshakeTimeout = 5 * time.Second

// DefaultWriteTimeout bounds one streaming write on a dialed socket
const DefaultWriteTimeout = time.Second

// loginRetryWait is the longest pause between short login writes
const loginRetryWait = 50 * time.Millisecond

const maxReplyLine = 1024

// Conn is the transport a ServerSink talks through
type Conn interface {
	Open() (bool, error)
	CanRead(sec, usec int) (bool, error)
	CanWrite(sec, usec int) (bool, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

var _ Conn = (*transport.TCPSocket)(nil)

type sinkState int

const (
	stateUnconnected sinkState = iota
	stateStreaming
)

// ServerSink streams to an Icecast2, Icecast 1.x or Shoutcast server
type ServerSink struct {
	protocol         Protocol
	info             ServerInfo
	conn             Conn
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	usePut           bool

	mu    sync.Mutex
	state sinkState
	// pending holds reply bytes read past the current line
	pending []byte
}

// ServerOption configures a ServerSink
type ServerOption func(*ServerSink)

// WithHandshakeTimeout bounds the acknowledgement wait
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *ServerSink) { s.handshakeTimeout = d }
}

// WithWriteTimeout bounds each streaming write of a dialed sink. A write
// the server does not take within d returns a short count.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *ServerSink) { s.writeTimeout = d }
}

// WithPut makes Icecast2 logins use HTTP PUT instead of SOURCE
func WithPut() ServerOption {
	return func(s *ServerSink) { s.usePut = true }
}

// NewServerSink creates a sink speaking protocol over conn
func NewServerSink(protocol Protocol, conn Conn, info ServerInfo, opts ...ServerOption) *ServerSink {
	if info.User == "" {
		info.User = "source"
	}
	if info.UserAgent == "" {
		info.UserAgent = "sendspin-caster"
	}
	s := &ServerSink{
		protocol:         protocol,
		info:             info.Sanitized(),
		conn:             conn,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial creates a ServerSink with its own TCP socket. Shoutcast v1 source
// connections go to the listener port + 1.
func Dial(protocol Protocol, info ServerInfo, opts ...ServerOption) *ServerSink {
	port := info.Port
	if protocol == Shoutcast {
		port++
	}
	s := NewServerSink(protocol, nil, info, opts...)
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	s.conn = transport.NewTCPSocket(info.Host, port, transport.WithWriteTimeout(s.writeTimeout))
	return s
}

// Protocol returns the login dialect
func (s *ServerSink) Protocol() Protocol { return s.protocol }

// Info returns the server description
func (s *ServerSink) Info() ServerInfo { return s.info }

// Streaming reports whether the server acknowledged the login
func (s *ServerSink) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStreaming
}

// Open connects and logs in. Already streaming is a no-op.
func (s *ServerSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateStreaming {
		return nil
	}

	if _, err := s.conn.Open(); err != nil {
		return err
	}

	s.pending = nil
	var err error
	switch s.protocol {
	case Icecast1:
		err = s.loginIcecast1()
	case Shoutcast:
		err = s.loginShoutcast()
	default:
		err = s.loginIcecast2()
	}
	if err != nil {
		s.conn.Close()
		return err
	}

	s.state = stateStreaming
	log.Printf("Streaming to %s server %s:%d%s", s.protocol, s.info.Host, s.info.Port, s.info.MountPath())
	return nil
}

// Write forwards p to the server. Returns 0, nil unless streaming.
func (s *ServerSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	streaming := s.state == stateStreaming
	s.mu.Unlock()

	if !streaming {
		return 0, nil
	}
	return s.conn.Write(p)
}

// Flush delegates to the transport
func (s *ServerSink) Flush() error {
	if !s.Streaming() {
		return nil
	}
	return s.conn.Flush()
}

// Close ends the stream. Safe to call more than once.
func (s *ServerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateUnconnected {
		return nil
	}
	s.state = stateUnconnected
	return s.conn.Close()
}

// sendAll writes login bytes, retrying short writes until the handshake
// deadline. Between attempts it waits for the socket to become writable.
func (s *ServerSink) sendAll(p []byte) error {
	deadline := time.Now().Add(s.handshakeTimeout)
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		if err != nil {
			return errors.Wrap(err, "send login")
		}
		p = p[n:]
		if n > 0 {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &streamerr.ProtocolError{Server: s.protocol.String(), Err: errors.New("login not accepted by transport")}
		}
		if remaining > loginRetryWait {
			remaining = loginRetryWait
		}
		if _, err := s.conn.CanWrite(0, int(remaining/time.Microsecond)); err != nil {
			return errors.Wrap(err, "send login")
		}
	}
	return nil
}

// readLine returns the next reply line without its line ending
func (s *ServerSink) readLine() (string, error) {
	deadline := time.Now().Add(s.handshakeTimeout)
	buf := make([]byte, 256)

	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(s.pending[:i], "\r"))
			s.pending = s.pending[i+1:]
			return line, nil
		}
		if len(s.pending) > maxReplyLine {
			return "", &streamerr.ProtocolError{Server: s.protocol.String(), Reply: string(s.pending[:64]), Err: errors.New("reply line too long")}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", &streamerr.ProtocolError{Server: s.protocol.String(), Reply: string(s.pending), Err: errors.New("no acknowledgement from server")}
		}

		ready, err := s.conn.CanRead(int(remaining/time.Second), int(remaining%time.Second/time.Microsecond))
		if err != nil {
			return "", err
		}
		if !ready {
			continue
		}

		n, err := s.conn.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		if err == io.EOF {
			if len(s.pending) > 0 && n > 0 {
				continue
			}
			if len(s.pending) > 0 {
				line := string(bytes.TrimRight(s.pending, "\r\n"))
				s.pending = nil
				return line, nil
			}
			return "", &streamerr.ProtocolError{Server: s.protocol.String(), Err: errors.New("connection closed during login")}
		}
		if err != nil {
			return "", err
		}
	}
}
