// ABOUTME: Tests for the TCP transport socket
// ABOUTME: Uses in-process loopback listeners only
package transport

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// listen starts a loopback listener and returns it with its port
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// accept returns the next server-side connection
func accept(t *testing.T, ln net.Listener) <-chan net.Conn {
	t.Helper()
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		ch <- c
	}()
	return ch
}

func TestOpenTwice(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port)
	opened, err := s.Open()
	require.NoError(t, err)
	assert.True(t, opened)
	defer s.Close()

	opened, err = s.Open()
	require.NoError(t, err)
	assert.False(t, opened, "second Open should report already open")

	peer := <-conns
	require.NotNil(t, peer)
	peer.Close()
}

func TestOpenRefused(t *testing.T) {
	ln, port := listen(t)
	ln.Close()

	s := NewTCPSocket("127.0.0.1", port, WithConnectTimeout(time.Second))
	_, err := s.Open()
	require.Error(t, err)
	assert.Equal(t, "connect", streamerr.Kind(err))
	assert.False(t, s.IsOpen())
}

func TestOpenUnresolvable(t *testing.T) {
	s := NewTCPSocket("host.invalid", 8000, WithConnectTimeout(time.Second))
	_, err := s.Open()
	require.Error(t, err)

	var ce *streamerr.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "host.invalid", ce.Host)
	assert.Equal(t, 8000, ce.Port)
}

func TestCanReadAndRead(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port)
	_, err := s.Open()
	require.NoError(t, err)
	defer s.Close()

	peer := <-conns
	defer peer.Close()

	ready, err := s.CanRead(0, 10000)
	require.NoError(t, err)
	assert.False(t, ready, "nothing sent yet")

	_, err = peer.Write([]byte("HTTP/1.0 200 OK\r\n"))
	require.NoError(t, err)

	ready, err = s.CanRead(2, 0)
	require.NoError(t, err)
	assert.True(t, ready)

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0 200 OK\r\n", string(buf[:n]))
}

func TestReadTimeoutReturnsZero(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port, WithReadTimeout(20*time.Millisecond))
	_, err := s.Open()
	require.NoError(t, err)
	defer s.Close()

	peer := <-conns
	defer peer.Close()

	n, err := s.Read(make([]byte, 16))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadPeerClosed(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port)
	_, err := s.Open()
	require.NoError(t, err)
	defer s.Close()

	peer := <-conns
	peer.Close()

	ready, err := s.CanRead(2, 0)
	require.NoError(t, err)
	assert.True(t, ready, "EOF is readable")

	n, err := s.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestWrite(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port, WithWriteTimeout(time.Second))
	_, err := s.Open()
	require.NoError(t, err)
	defer s.Close()

	peer := <-conns
	defer peer.Close()

	ready, err := s.CanWrite(1, 0)
	require.NoError(t, err)
	assert.True(t, ready)

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestUnopenedSocket(t *testing.T) {
	s := NewTCPSocket("127.0.0.1", 1)

	ready, err := s.CanRead(0, 0)
	assert.NoError(t, err)
	assert.False(t, ready)

	ready, err = s.CanWrite(0, 0)
	assert.NoError(t, err)
	assert.False(t, ready)

	n, err := s.Write([]byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.NoError(t, s.Flush())
	assert.NoError(t, s.Close())
}

func TestCloseIdempotent(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port)
	_, err := s.Open()
	require.NoError(t, err)
	peer := <-conns
	defer peer.Close()

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
}

func TestDupSharesConnection(t *testing.T) {
	ln, port := listen(t)
	conns := accept(t, ln)

	s := NewTCPSocket("127.0.0.1", port)
	_, err := s.Open()
	require.NoError(t, err)

	peer := <-conns
	defer peer.Close()

	d, err := s.Dup()
	require.NoError(t, err)
	require.True(t, d.IsOpen())
	assert.Equal(t, s.Addr(), d.Addr())

	// Closing the original leaves the duplicate usable
	require.NoError(t, s.Close())

	n, err := d.Write([]byte("dup"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 3)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "dup", string(buf))

	assert.NoError(t, d.Close())
}

func TestDupUnopened(t *testing.T) {
	s := NewTCPSocket("127.0.0.1", 9)
	d, err := s.Dup()
	require.NoError(t, err)
	assert.False(t, d.IsOpen())
}

func TestAddr(t *testing.T) {
	s := NewTCPSocket("::1", 8000)
	assert.Equal(t, "[::1]:"+strconv.Itoa(8000), s.Addr())
	assert.Equal(t, "::1", s.Host())
	assert.Equal(t, 8000, s.Port())
}
