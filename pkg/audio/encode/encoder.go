// ABOUTME: Encoder contract and configuration
// ABOUTME: Defines bitrate modes, codec back-ends and the codec registry
package encode

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// Encoder is one output of the capture fan-out. It converts raw PCM in
// the capture format, encodes it and delivers it to its own sink.
type Encoder interface {
	// Open connects the sink and writes stream headers
	Open() error
	// Write consumes whole frames of PCM and returns the bytes consumed
	Write(buf []byte) (int, error)
	// Flush pads and drains the final block
	Flush() error
	// Close flushes and releases codec and sink
	Close() error
	// IsOpen reports whether the encoder is streaming
	IsOpen() bool
}

// BitrateMode selects how the codec spends bits
type BitrateMode int

const (
	CBR BitrateMode = iota
	ABR
	VBR
)

func (m BitrateMode) String() string {
	switch m {
	case ABR:
		return "abr"
	case VBR:
		return "vbr"
	default:
		return "cbr"
	}
}

// ParseBitrateMode maps "cbr", "abr" or "vbr" to a BitrateMode
func ParseBitrateMode(s string) (BitrateMode, error) {
	switch strings.ToLower(s) {
	case "cbr", "":
		return CBR, nil
	case "abr":
		return ABR, nil
	case "vbr":
		return VBR, nil
	}
	return CBR, errors.Errorf("unknown bitrate mode %q", s)
}

// Config describes one encoder
type Config struct {
	Name  string
	Codec string
	// Input must equal the capture source format
	Input audio.Format
	// OutSampleRate defaults to the input rate
	OutSampleRate int
	// OutChannels defaults to the input channel count
	OutChannels int
	Mode        BitrateMode
	// Bitrate and MaxBitrate in kbps
	Bitrate    int
	MaxBitrate int
	// Quality in 0..1, used by VBR
	Quality float64
	// BigEndian selects big-endian output for the pcm codec
	BigEndian bool
}

// withDefaults fills unset output parameters from the input format
func (c Config) withDefaults() Config {
	if c.OutSampleRate == 0 {
		c.OutSampleRate = c.Input.SampleRate
	}
	if c.OutChannels == 0 {
		c.OutChannels = c.Input.Channels
	}
	return c
}

// Unit is one self-contained piece of the encoded stream (an Ogg page,
// a FLAC frame, a PCM chunk). Header is written before Body.
type Unit struct {
	Header []byte
	Body   []byte
}

// Len returns the total size of the unit
func (u Unit) Len() int { return len(u.Header) + len(u.Body) }

// Codec is a codec back-end driven by a Session. Samples are interleaved
// int16 at the output rate and channel count.
type Codec interface {
	// Open initializes codec state and returns the stream header units
	Open() ([]Unit, error)
	// Encode buffers samples and returns every unit completed by them
	Encode(samples []int16) ([]Unit, error)
	// Finish pads the last partial block and returns the remaining units
	Finish() ([]Unit, error)
	// Close releases codec resources
	Close() error
	// ContentType is the MIME type announced to servers
	ContentType() string
}

// Factory validates cfg and builds an unopened Codec
type Factory func(cfg Config) (Codec, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a codec back-end available by name
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Codecs returns the registered codec names
func Codecs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, &streamerr.UnsupportedFormatError{Field: "codec", Msg: "unknown codec " + strconv.Quote(name)}
	}
	return f, nil
}

// ContentType returns the MIME type for cfg without opening anything
func ContentType(cfg Config) (string, error) {
	f, err := lookup(cfg.Codec)
	if err != nil {
		return "", err
	}
	c, err := f(cfg.withDefaults())
	if err != nil {
		return "", err
	}
	return c.ContentType(), nil
}

func init() {
	Register("opus", newOpusCodec)
	Register("flac", newFLACCodec)
	Register("pcm", newPCMCodec)
}
