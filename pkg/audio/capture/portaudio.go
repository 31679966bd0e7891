//go:build portaudio

// ABOUTME: PortAudio capture implementation
// ABOUTME: Cross-platform live device input using PortAudio blocking reads
package capture

import (
	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

const portAudioFramesPerBuffer = 1024

// PortAudioSource captures from a PortAudio input device
type PortAudioSource struct {
	device string
	format audio.Format
	stream *portaudio.Stream
	buf16  []int16
	buf8   []uint8
	// pending holds captured bytes not yet handed to Read
	pending []byte
}

// NewPortAudioSource creates a new PortAudio capture source.
// An empty device or "default" selects the default input.
func NewPortAudioSource(device string, format audio.Format) Source {
	return &PortAudioSource{device: device, format: format}
}

func (p *PortAudioSource) findDevice() (*portaudio.DeviceInfo, error) {
	if p.device == "" || p.device == "default" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == p.device && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, errors.Errorf("no input device named %q", p.device)
}

// Open initializes PortAudio and starts the input stream
func (p *PortAudioSource) Open() error {
	if p.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return &streamerr.SourceError{Device: p.device, Err: errors.Wrap(err, "initialize portaudio")}
	}

	dev, err := p.findDevice()
	if err != nil {
		portaudio.Terminate()
		return &streamerr.SourceError{Device: p.device, Err: err}
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = p.format.Channels
	params.SampleRate = float64(p.format.SampleRate)
	params.FramesPerBuffer = portAudioFramesPerBuffer

	samples := portAudioFramesPerBuffer * p.format.Channels
	var stream *portaudio.Stream
	if p.format.BitDepth == 8 {
		p.buf8 = make([]uint8, samples)
		stream, err = portaudio.OpenStream(params, p.buf8)
	} else {
		p.buf16 = make([]int16, samples)
		stream, err = portaudio.OpenStream(params, p.buf16)
	}
	if err != nil {
		portaudio.Terminate()
		return &streamerr.SourceError{Device: p.device, Err: errors.Wrap(err, "open stream")}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return &streamerr.SourceError{Device: p.device, Err: errors.Wrap(err, "start stream")}
	}

	log.Printf("Capturing from PortAudio device %q (%s)", dev.Name, p.format)
	p.stream = stream
	return nil
}

// Read returns captured PCM bytes, blocking for at most one device buffer
func (p *PortAudioSource) Read(buf []byte) (int, error) {
	if p.stream == nil {
		return 0, nil
	}

	if len(p.pending) == 0 {
		if err := p.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				log.Warnf("capture: portaudio input overflowed")
			} else {
				return 0, &streamerr.SourceError{Device: p.device, Err: err}
			}
		}
		if p.buf8 != nil {
			p.pending = append(p.pending[:0], p.buf8...)
		} else {
			if cap(p.pending) < len(p.buf16)*2 {
				p.pending = make([]byte, len(p.buf16)*2)
			}
			p.pending = p.pending[:len(p.buf16)*2]
			audio.Int16ToBytes(p.pending, p.buf16, p.format.BigEndian)
		}
	}

	n := copy(buf[:p.format.Whole(len(buf))], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *PortAudioSource) Format() audio.Format { return p.format }

// Close stops the stream and releases PortAudio
func (p *PortAudioSource) Close() error {
	if p.stream == nil {
		return nil
	}
	stream := p.stream
	p.stream = nil
	if err := stream.Stop(); err != nil {
		return err
	}
	if err := stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
