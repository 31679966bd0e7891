// ABOUTME: Byte sink abstraction for encoded streams
// ABOUTME: Sink interface, server description and protocol selection
package sink

import (
	"strings"

	"github.com/pkg/errors"
)

// Sink accepts encoded bytes. Write may accept fewer bytes than offered;
// callers decide what to do with the remainder.
type Sink interface {
	Open() error
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// ServerInfo describes the stream to the streaming server. It is
// copied into the Sink at construction and not changed afterwards.
type ServerInfo struct {
	Host        string
	Port        int
	Mount       string
	User        string
	Password    string
	Name        string
	Description string
	Genre       string
	URL         string
	Public      bool
	// Bitrate in kbps, 0 if unknown
	Bitrate     int
	ContentType string
	// SampleRate and Channels feed ice-audio-info when set
	SampleRate int
	Channels   int
	// DumpFile asks an Icecast 1.x server to save the stream remotely
	DumpFile string
	// UserAgent is sent by HTTP-style protocols
	UserAgent string
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Sanitized returns a copy whose text fields carry no line breaks, so no
// value can end a login header early
func (i ServerInfo) Sanitized() ServerInfo {
	for _, f := range []*string{
		&i.Host, &i.Mount, &i.User, &i.Password, &i.Name, &i.Description,
		&i.Genre, &i.URL, &i.ContentType, &i.DumpFile, &i.UserAgent,
	} {
		*f = lineBreaks.Replace(*f)
	}
	return i
}

// MountPath returns the mount point with a leading slash
func (i ServerInfo) MountPath() string {
	if strings.HasPrefix(i.Mount, "/") {
		return i.Mount
	}
	return "/" + i.Mount
}

// Protocol is the login dialect spoken to a streaming server
type Protocol int

const (
	Icecast2 Protocol = iota
	Icecast1
	Shoutcast
)

func (p Protocol) String() string {
	switch p {
	case Icecast1:
		return "icecast"
	case Shoutcast:
		return "shoutcast"
	default:
		return "icecast2"
	}
}

// ParseProtocol maps a configuration server_type to a Protocol
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "icecast2", "":
		return Icecast2, nil
	case "icecast", "icecast1":
		return Icecast1, nil
	case "shoutcast":
		return Shoutcast, nil
	}
	return 0, errors.Errorf("unknown server type %q", s)
}
