// ABOUTME: Ogg/Opus codec back-end
// ABOUTME: Encodes 20ms Opus frames and pages them with the pion Ogg writer
package encode

import (
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

const (
	// opusFrameMs is the Opus frame duration
	opusFrameMs = 20
	// opusGranuleRate is the Ogg/Opus granule clock regardless of input rate
	opusGranuleRate = 48000
	// maxOpusPacket is the largest packet libopus produces
	maxOpusPacket   = 4000
	opusPayloadType = 111
)

var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

type opusCodec struct {
	cfg          Config
	frameSamples int // per channel

	enc     *opus.Encoder
	ogg     *oggwriter.OggWriter
	queue   *unitQueue
	pending []int16
	packet  []byte
	seq     uint16
	ts      uint32
}

func newOpusCodec(cfg Config) (Codec, error) {
	if !opusRates[cfg.OutSampleRate] {
		return nil, &streamerr.UnsupportedFormatError{
			Field: "sample_rate",
			Value: cfg.OutSampleRate,
			Msg:   "opus supports 8000, 12000, 16000, 24000 or 48000 Hz",
		}
	}
	return &opusCodec{
		cfg:          cfg,
		frameSamples: cfg.OutSampleRate * opusFrameMs / 1000,
	}, nil
}

func (c *opusCodec) ContentType() string { return "audio/ogg" }

// Per-channel bounds in kbps of the quality to bitrate mapping
const (
	opusMinChannelKbps = 8
	opusMaxChannelKbps = 128
)

// opusVBRBitrate maps quality 0..1 onto a target bitrate in kbps for the
// encoder's own VBR, capped by maxKbps when set
func opusVBRBitrate(quality float64, channels, maxKbps int) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	perChannel := opusMinChannelKbps + quality*(opusMaxChannelKbps-opusMinChannelKbps)
	kbps := int(perChannel*float64(channels) + 0.5)
	if maxKbps > 0 && kbps > maxKbps {
		kbps = maxKbps
	}
	return kbps
}

// opusInitError carries libopus' native error code when present
func opusInitError(step string, err error) error {
	code := 0
	var oe opus.Error
	if errors.As(err, &oe) {
		code = int(oe)
	}
	return &streamerr.CodecInitError{Codec: "opus", Step: step, Code: code, Err: err}
}

func (c *opusCodec) Open() ([]Unit, error) {
	enc, err := opus.NewEncoder(c.cfg.OutSampleRate, c.cfg.OutChannels, opus.AppAudio)
	if err != nil {
		return nil, opusInitError("create", err)
	}

	switch c.cfg.Mode {
	case CBR:
		bitrate := c.cfg.Bitrate
		if c.cfg.MaxBitrate > 0 && bitrate > c.cfg.MaxBitrate {
			bitrate = c.cfg.MaxBitrate
		}
		if err := enc.SetBitrate(bitrate * 1000); err != nil {
			return nil, opusInitError("bitrate", err)
		}
	case ABR:
		if err := enc.SetBitrate(c.cfg.Bitrate * 1000); err != nil {
			return nil, opusInitError("bitrate", err)
		}
	case VBR:
		if err := enc.SetBitrate(opusVBRBitrate(c.cfg.Quality, c.cfg.OutChannels, c.cfg.MaxBitrate) * 1000); err != nil {
			return nil, opusInitError("bitrate", err)
		}
	}

	c.queue = &unitQueue{perWrite: true, split: oggHeaderLen}
	ogg, err := oggwriter.NewWith(c.queue, uint32(c.cfg.OutSampleRate), uint16(c.cfg.OutChannels))
	if err != nil {
		return nil, &streamerr.CodecInitError{Codec: "opus", Step: "ogg headers", Err: err}
	}

	c.enc = enc
	c.ogg = ogg
	c.pending = c.pending[:0]
	c.packet = make([]byte, maxOpusPacket)
	c.seq = 0
	c.ts = 0
	return c.queue.take(), nil
}

func (c *opusCodec) Encode(samples []int16) ([]Unit, error) {
	c.pending = append(c.pending, samples...)

	frameLen := c.frameSamples * c.cfg.OutChannels
	consumed := 0
	for len(c.pending)-consumed >= frameLen {
		if err := c.encodeFrame(c.pending[consumed : consumed+frameLen]); err != nil {
			return c.queue.take(), err
		}
		consumed += frameLen
	}
	c.pending = append(c.pending[:0], c.pending[consumed:]...)
	return c.queue.take(), nil
}

func (c *opusCodec) encodeFrame(pcm []int16) error {
	n, err := c.enc.Encode(pcm, c.packet)
	if err != nil {
		return err
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
		},
		Payload: c.packet[:n],
	}
	c.seq++
	c.ts += opusGranuleRate * opusFrameMs / 1000

	return c.ogg.WriteRTP(pkt)
}

func (c *opusCodec) Finish() ([]Unit, error) {
	if c.enc == nil || len(c.pending) == 0 {
		return nil, nil
	}

	frameLen := c.frameSamples * c.cfg.OutChannels
	for len(c.pending) < frameLen {
		c.pending = append(c.pending, 0)
	}
	err := c.encodeFrame(c.pending[:frameLen])
	c.pending = c.pending[:0]
	return c.queue.take(), err
}

func (c *opusCodec) Close() error {
	var err error
	if c.ogg != nil {
		err = c.ogg.Close()
	}
	c.ogg = nil
	c.enc = nil
	return err
}
