// ABOUTME: Tests for pipeline error kinds
// ABOUTME: Verifies messages, unwrapping and kind detection through wrapping
package streamerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", io.EOF, ""},
		{"connect", &ConnectError{Host: "h", Port: 1, Err: io.EOF}, "connect"},
		{"protocol", &ProtocolError{Server: "icecast2"}, "protocol"},
		{"format", &UnsupportedFormatError{Field: "channels", Value: 3}, "format"},
		{"codec", &CodecInitError{Codec: "opus", Step: "init", Code: -1}, "codec"},
		{"io", &IOError{Op: "send", Err: io.ErrClosedPipe}, "io"},
		{"source", &SourceError{Err: io.EOF}, "source"},
		{"fmt wrapped", fmt.Errorf("outer: %w", &IOError{Op: "recv"}), "io"},
		{"pkg wrapped", pkgerrors.Wrap(&SourceError{Err: io.EOF}, "read"), "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := &ConnectError{Host: "example.org", Port: 8000, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected ConnectError to unwrap to its cause")
	}
	if err.Error() != "connect example.org:8000: refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Server: "shoutcast", Reply: "invalid password"}
	want := `protocol error from shoutcast (reply "invalid password")`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
