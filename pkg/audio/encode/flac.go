// ABOUTME: FLAC codec back-end
// ABOUTME: Lossless frames via the mewkiz/flac encoder, one unit per frame
package encode

import (
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

const (
	flacBlockSize     = 4096
	flacMinBlockSize  = 16
	flacBitsPerSample = 16
)

type flacCodec struct {
	cfg     Config
	enc     *flac.Encoder
	queue   *unitQueue
	pending []int16
}

func newFLACCodec(cfg Config) (Codec, error) {
	if cfg.OutSampleRate > 655350 {
		return nil, &streamerr.UnsupportedFormatError{Field: "sample_rate", Value: cfg.OutSampleRate, Msg: "flac sample rate too high"}
	}
	return &flacCodec{cfg: cfg}, nil
}

func (c *flacCodec) ContentType() string { return "audio/flac" }

func (c *flacCodec) Open() ([]Unit, error) {
	c.queue = &unitQueue{}
	info := &meta.StreamInfo{
		BlockSizeMin:  flacMinBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(c.cfg.OutSampleRate),
		NChannels:     uint8(c.cfg.OutChannels),
		BitsPerSample: flacBitsPerSample,
	}

	enc, err := flac.NewEncoder(c.queue, info)
	if err != nil {
		return nil, &streamerr.CodecInitError{Codec: "flac", Step: "stream info", Err: err}
	}
	c.enc = enc
	c.pending = c.pending[:0]

	// "fLaC" marker, then the metadata blocks
	c.queue.cut(4)
	return c.queue.take(), nil
}

func (c *flacCodec) Encode(samples []int16) ([]Unit, error) {
	c.pending = append(c.pending, samples...)

	blockLen := flacBlockSize * c.cfg.OutChannels
	consumed := 0
	for len(c.pending)-consumed >= blockLen {
		if err := c.writeFrame(c.pending[consumed : consumed+blockLen]); err != nil {
			return c.queue.take(), err
		}
		consumed += blockLen
	}
	c.pending = append(c.pending[:0], c.pending[consumed:]...)
	return c.queue.take(), nil
}

func (c *flacCodec) channels() frame.Channels {
	if c.cfg.OutChannels == 1 {
		return frame.ChannelsMono
	}
	return frame.ChannelsLR
}

func (c *flacCodec) writeFrame(pcm []int16) error {
	ch := c.cfg.OutChannels
	n := len(pcm) / ch

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(n),
			SampleRate:        uint32(c.cfg.OutSampleRate),
			Channels:          c.channels(),
			BitsPerSample:     flacBitsPerSample,
		},
		Subframes: make([]*frame.Subframe, ch),
	}

	for j := 0; j < ch; j++ {
		samples := make([]int32, n)
		constant := true
		for i := 0; i < n; i++ {
			samples[i] = int32(pcm[i*ch+j])
			if samples[i] != samples[0] {
				constant = false
			}
		}
		pred := frame.PredVerbatim
		if constant {
			pred = frame.PredConstant
		}
		f.Subframes[j] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: pred},
			Samples:   samples,
			NSamples:  n,
		}
	}

	if err := c.enc.WriteFrame(f); err != nil {
		return err
	}
	c.queue.cut(0)
	return nil
}

// Finish emits the remaining samples as a shorter final frame
func (c *flacCodec) Finish() ([]Unit, error) {
	if c.enc == nil || len(c.pending) < c.cfg.OutChannels {
		return nil, nil
	}
	err := c.writeFrame(c.pending)
	c.pending = c.pending[:0]
	return c.queue.take(), err
}

func (c *flacCodec) Close() error {
	if c.enc == nil {
		return nil
	}
	err := c.enc.Close()
	c.enc = nil
	return err
}
