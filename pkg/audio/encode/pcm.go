// ABOUTME: Raw PCM codec back-end
// ABOUTME: 16-bit linear PCM in either byte order, one unit per block
package encode

import (
	"fmt"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
)

type pcmCodec struct {
	cfg Config
}

func newPCMCodec(cfg Config) (Codec, error) {
	return &pcmCodec{cfg: cfg}, nil
}

func (c *pcmCodec) ContentType() string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=%d", c.cfg.OutSampleRate, c.cfg.OutChannels)
}

func (c *pcmCodec) Open() ([]Unit, error) { return nil, nil }

func (c *pcmCodec) Encode(samples []int16) ([]Unit, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	body := make([]byte, len(samples)*2)
	audio.Int16ToBytes(body, samples, c.cfg.BigEndian)
	return []Unit{{Body: body}}, nil
}

func (c *pcmCodec) Finish() ([]Unit, error) { return nil, nil }

func (c *pcmCodec) Close() error { return nil }
