// ABOUTME: Error kinds for the capture/encode/stream pipeline
// ABOUTME: Connect, protocol, format, codec, I/O and source failures
package streamerr

import (
	"errors"
	"fmt"
)

// ConnectError reports a transport that could not reach its host
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError reports a server that rejected or garbled the handshake
type ProtocolError struct {
	Server string
	Reply  string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error from %s", e.Server)
	if e.Reply != "" {
		msg += fmt.Sprintf(" (reply %q)", e.Reply)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a sample format an encoder cannot accept
type UnsupportedFormatError struct {
	Field string
	Value int
	Msg   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s (%s=%d)", e.Msg, e.Field, e.Value)
}

// CodecInitError reports a codec library that refused its configuration.
// Code carries the library's native error code when it has one.
type CodecInitError struct {
	Codec string
	Step  string
	Code  int
	Err   error
}

func (e *CodecInitError) Error() string {
	return fmt.Sprintf("%s %s failed (code %d): %v", e.Codec, e.Step, e.Code, e.Err)
}

func (e *CodecInitError) Unwrap() error { return e.Err }

// IOError reports a hard socket error during read, write or poll
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// SourceError reports a capture device failure
type SourceError struct {
	Device string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio source: %v", e.Err)
	}
	return fmt.Sprintf("audio source %s: %v", e.Device, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Kind names the error kind found in err's chain, or "" if none
func Kind(err error) string {
	var (
		ce *ConnectError
		pe *ProtocolError
		fe *UnsupportedFormatError
		ci *CodecInitError
		ie *IOError
		se *SourceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "connect"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &fe):
		return "format"
	case errors.As(err, &ci):
		return "codec"
	case errors.As(err, &ie):
		return "io"
	case errors.As(err, &se):
		return "source"
	}
	return ""
}
