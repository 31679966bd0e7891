// ABOUTME: Local monitor sink using the oto library
// ABOUTME: Plays 16-bit little-endian PCM on the default output device
package sink

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// oto allows one context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
	otoCh   int
)

func sharedOtoContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = errors.Wrap(err, "create oto context")
			return
		}
		<-ready
		otoCtx, otoRate, otoCh = ctx, sampleRate, channels
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate || otoCh != channels {
		log.Warnf("monitor: audio device already initialized at %dHz/%dch, requested %dHz/%dch",
			otoRate, otoCh, sampleRate, channels)
	}
	return otoCtx, nil
}

// MonitorSink plays the stream locally. Feed it little-endian 16-bit PCM.
type MonitorSink struct {
	sampleRate int
	channels   int

	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	volume     int
	scratch    []byte
}

// NewMonitorSink creates a monitor for the given output format
func NewMonitorSink(sampleRate, channels int) *MonitorSink {
	return &MonitorSink{
		sampleRate: sampleRate,
		channels:   channels,
		volume:     100,
	}
}

// SetVolume sets the playback volume (0-100)
func (m *MonitorSink) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	m.mu.Lock()
	m.volume = volume
	m.mu.Unlock()
}

// Volume returns the playback volume
func (m *MonitorSink) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *MonitorSink) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.player != nil {
		return nil
	}

	ctx, err := sharedOtoContext(m.sampleRate, m.channels)
	if err != nil {
		return &streamerr.IOError{Op: "open monitor", Err: err}
	}

	// Persistent player reading from a pipe
	m.pipeReader, m.pipeWriter = io.Pipe()
	m.player = ctx.NewPlayer(m.pipeReader)
	m.player.Play()

	log.Printf("Monitor output initialized: %dHz, %d channels", m.sampleRate, m.channels)
	return nil
}

// Write hands PCM to the player, blocking until the pipe accepts it
func (m *MonitorSink) Write(p []byte) (int, error) {
	m.mu.Lock()
	w := m.pipeWriter
	volume := m.volume
	m.mu.Unlock()

	if w == nil {
		return 0, nil
	}

	out := p
	if volume != 100 {
		if cap(m.scratch) < len(p) {
			m.scratch = make([]byte, len(p))
		}
		out = m.scratch[:len(p)]
		applyVolume(out, p, volume)
	}

	n, err := w.Write(out)
	if err != nil {
		return n, &streamerr.IOError{Op: "monitor write", Err: err}
	}
	return n, nil
}

func (m *MonitorSink) Flush() error { return nil }

func (m *MonitorSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipeWriter != nil {
		m.pipeWriter.Close()
		m.pipeWriter = nil
	}
	if m.player != nil {
		m.player.Close()
		m.player = nil
	}
	if m.pipeReader != nil {
		m.pipeReader.Close()
		m.pipeReader = nil
	}
	return nil
}

// applyVolume scales little-endian 16-bit samples from src into dst
func applyVolume(dst, src []byte, volume int) {
	for i := 0; i+1 < len(src); i += 2 {
		s := int16(binary.LittleEndian.Uint16(src[i:]))
		v := int32(s) * int32(volume) / 100
		binary.LittleEndian.PutUint16(dst[i:], uint16(int16(v)))
	}
	if len(src)%2 == 1 {
		dst[len(src)-1] = src[len(src)-1]
	}
}
