// ABOUTME: Icecast 2 source login
// ABOUTME: HTTP-style SOURCE/PUT request with Basic auth and ice-* headers
package sink

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// icecast2Request builds the login request
func icecast2Request(info ServerInfo, usePut bool) []byte {
	method := "SOURCE"
	if usePut {
		method = "PUT"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.0\r\n", method, info.MountPath())
	auth := base64.StdEncoding.EncodeToString([]byte(info.User + ":" + info.Password))
	fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", info.UserAgent)
	if usePut {
		fmt.Fprintf(&b, "Host: %s:%d\r\n", info.Host, info.Port)
	}
	if info.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", info.ContentType)
	}
	if info.Name != "" {
		fmt.Fprintf(&b, "ice-name: %s\r\n", info.Name)
	}
	if info.Description != "" {
		fmt.Fprintf(&b, "ice-description: %s\r\n", info.Description)
	}
	if info.Genre != "" {
		fmt.Fprintf(&b, "ice-genre: %s\r\n", info.Genre)
	}
	if info.URL != "" {
		fmt.Fprintf(&b, "ice-url: %s\r\n", info.URL)
	}
	fmt.Fprintf(&b, "ice-public: %s\r\n", boolFlag(info.Public))
	if info.Bitrate > 0 {
		fmt.Fprintf(&b, "ice-bitrate: %d\r\n", info.Bitrate)
	}
	if audioInfo := iceAudioInfo(info); audioInfo != "" {
		fmt.Fprintf(&b, "ice-audio-info: %s\r\n", audioInfo)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func iceAudioInfo(info ServerInfo) string {
	var parts []string
	if info.SampleRate > 0 {
		parts = append(parts, fmt.Sprintf("ice-samplerate=%d", info.SampleRate))
	}
	if info.Bitrate > 0 {
		parts = append(parts, fmt.Sprintf("ice-bitrate=%d", info.Bitrate))
	}
	if info.Channels > 0 {
		parts = append(parts, fmt.Sprintf("ice-channels=%d", info.Channels))
	}
	return strings.Join(parts, ";")
}

// icecast2Accepted checks for an HTTP/1.x 200 status line
func icecast2Accepted(line string) bool {
	fields := strings.Fields(line)
	return len(fields) >= 2 && strings.HasPrefix(fields[0], "HTTP/1.") && fields[1] == "200"
}

func (s *ServerSink) loginIcecast2() error {
	if err := s.sendAll(icecast2Request(s.info, s.usePut)); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	if !icecast2Accepted(line) {
		return &streamerr.ProtocolError{Server: s.protocol.String(), Reply: line, Err: errors.New("login rejected")}
	}
	return nil
}
