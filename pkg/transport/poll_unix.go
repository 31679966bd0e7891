//go:build unix

// ABOUTME: poll(2) readiness probes on the raw socket descriptor
// ABOUTME: Unix implementation of CanRead/CanWrite
package transport

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func pollConn(conn *net.TCPConn, events int16, timeout time.Duration) (bool, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false, err
	}

	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}

	var ready bool
	var perr error
	cerr := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		for {
			n, err := unix.Poll(fds, ms)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				perr = err
				return
			}
			ready = n > 0 && fds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0
			return
		}
	})
	if cerr != nil {
		return false, cerr
	}
	return ready, perr
}

func (s *TCPSocket) waitReadable(conn *net.TCPConn, timeout time.Duration) (bool, error) {
	return pollConn(conn, unix.POLLIN, timeout)
}

func waitWritable(conn *net.TCPConn, timeout time.Duration) (bool, error) {
	return pollConn(conn, unix.POLLOUT, timeout)
}
