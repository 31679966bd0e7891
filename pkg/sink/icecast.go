// ABOUTME: Icecast 1.x source login
// ABOUTME: SOURCE <password> /<mount> line followed by x-audiocast-* headers
package sink

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

func icecast1Request(info ServerInfo) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "SOURCE %s %s\n", info.Password, info.MountPath())
	if info.Name != "" {
		fmt.Fprintf(&b, "x-audiocast-name: %s\n", info.Name)
	}
	if info.Description != "" {
		fmt.Fprintf(&b, "x-audiocast-description: %s\n", info.Description)
	}
	if info.URL != "" {
		fmt.Fprintf(&b, "x-audiocast-url: %s\n", info.URL)
	}
	if info.Genre != "" {
		fmt.Fprintf(&b, "x-audiocast-genre: %s\n", info.Genre)
	}
	fmt.Fprintf(&b, "x-audiocast-public: %s\n", boolFlag(info.Public))
	if info.Bitrate > 0 {
		fmt.Fprintf(&b, "x-audiocast-bitrate: %d\n", info.Bitrate)
	}
	if info.DumpFile != "" {
		fmt.Fprintf(&b, "x-audiocast-dumpfile: %s\n", info.DumpFile)
	}
	b.WriteString("\n")
	return b.Bytes()
}

func (s *ServerSink) loginIcecast1() error {
	if err := s.sendAll(icecast1Request(s.info)); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return &streamerr.ProtocolError{Server: s.protocol.String(), Reply: line, Err: errors.New("login rejected")}
	}
	return nil
}
