//go:build !unix

// ABOUTME: Deadline-based readiness probes
// ABOUTME: Fallback for platforms without poll(2)
package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

// waitReadable reads one byte under a deadline and keeps it for the next Read
func (s *TCPSocket) waitReadable(conn *net.TCPConn, timeout time.Duration) (bool, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := conn.Read(one)
	if n > 0 {
		s.mu.Lock()
		s.peeked = append(s.peeked, one[:n]...)
		s.mu.Unlock()
		return true, nil
	}
	if err == nil || isTimeout(err) {
		return false, nil
	}
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// waitWritable cannot be probed without writing; an open socket is reported writable
func waitWritable(conn *net.TCPConn, timeout time.Duration) (bool, error) {
	return true, nil
}
