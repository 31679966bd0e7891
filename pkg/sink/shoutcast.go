// ABOUTME: Shoutcast v1 source login
// ABOUTME: Password line, OK2 acknowledgement, then icy-* headers
package sink

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

func shoutcastHeaders(info ServerInfo) []byte {
	var b bytes.Buffer
	if info.Name != "" {
		fmt.Fprintf(&b, "icy-name:%s\r\n", info.Name)
	}
	if info.Genre != "" {
		fmt.Fprintf(&b, "icy-genre:%s\r\n", info.Genre)
	}
	if info.URL != "" {
		fmt.Fprintf(&b, "icy-url:%s\r\n", info.URL)
	}
	fmt.Fprintf(&b, "icy-pub:%s\r\n", boolFlag(info.Public))
	if info.Bitrate > 0 {
		fmt.Fprintf(&b, "icy-br:%d\r\n", info.Bitrate)
	}
	if info.ContentType != "" {
		fmt.Fprintf(&b, "content-type:%s\r\n", info.ContentType)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func (s *ServerSink) loginShoutcast() error {
	if err := s.sendAll([]byte(s.info.Password + "\r\n")); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return &streamerr.ProtocolError{Server: s.protocol.String(), Reply: line, Err: errors.New("password rejected")}
	}

	return s.sendAll(shoutcastHeaders(s.info))
}
