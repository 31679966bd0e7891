// ABOUTME: Builds the capture pipeline from configuration
// ABOUTME: Creates the source, one sink and encoder session per output, and the connector
package app

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/internal/config"
	"github.com/Sendspin/sendspin-caster/internal/version"
	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/audio/capture"
	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
	"github.com/Sendspin/sendspin-caster/pkg/connector"
	"github.com/Sendspin/sendspin-caster/pkg/sink"
)

// Pipeline is a built but unopened capture pipeline
type Pipeline struct {
	Source    capture.Source
	Connector *connector.Connector
	// Targets maps output name to a printable destination
	Targets  map[string]string
	Monitors []*sink.MonitorSink
}

type prober interface {
	Probe() (audio.Format, error)
}

// InputFormat returns the capture format described by the config
func InputFormat(in config.Input) audio.Format {
	return audio.Format{
		SampleRate: in.SampleRate,
		BitDepth:   in.BitsPerSample,
		Channels:   in.Channels,
		BigEndian:  in.BigEndian,
	}
}

// BudgetBytes converts a duration in seconds into the number of source
// bytes to transfer. Zero means unlimited.
func BudgetBytes(f audio.Format, seconds int) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(f.SampleRate) * uint64(f.BitDepth/8) * uint64(f.Channels) * uint64(seconds)
}

// BuildSource creates the capture source. Sources that know their own
// format, such as MP3 files, override the configured format.
func BuildSource(in config.Input) (capture.Source, error) {
	src, err := capture.New(capture.Config{
		Backend: in.Backend,
		Device:  in.Device,
		Format:  InputFormat(in),
		Paced:   in.Paced,
	})
	if err != nil {
		return nil, err
	}
	if p, ok := src.(prober); ok {
		f, err := p.Probe()
		if err != nil {
			return nil, err
		}
		log.Infof("Input %s is %s", in.Device, f)
	}
	return src, nil
}

// EncoderConfig maps an output to its encoder configuration
func EncoderConfig(o config.Output, in audio.Format) (encode.Config, error) {
	mode, err := encode.ParseBitrateMode(o.BitrateMode)
	if err != nil {
		return encode.Config{}, err
	}
	return encode.Config{
		Name:          o.Name,
		Codec:         o.Codec,
		Input:         in,
		OutSampleRate: o.SampleRate,
		OutChannels:   o.Channels,
		Mode:          mode,
		Bitrate:       o.Bitrate,
		MaxBitrate:    o.MaxBitrate,
		Quality:       o.Quality,
		BigEndian:     o.BigEndian,
	}, nil
}

// ServerInfo describes an output to its streaming server
func ServerInfo(o config.Output, enc encode.Config, contentType string) sink.ServerInfo {
	rate := enc.OutSampleRate
	if rate == 0 {
		rate = enc.Input.SampleRate
	}
	channels := enc.OutChannels
	if channels == 0 {
		channels = enc.Input.Channels
	}
	return sink.ServerInfo{
		Host:        o.Host,
		Port:        o.Port,
		Mount:       o.Mount,
		User:        o.User,
		Password:    o.Password,
		Name:        o.StreamName,
		Description: o.Description,
		Genre:       o.Genre,
		URL:         o.URL,
		Public:      o.Public,
		Bitrate:     o.Bitrate,
		ContentType: contentType,
		SampleRate:  rate,
		Channels:    channels,
		DumpFile:    o.DumpFile,
		UserAgent:   version.UserAgent(),
	}
}

// Target renders the destination of an output
func Target(o config.Output) string {
	switch o.ServerType {
	case config.TypeFile:
		return "file://" + o.File
	case config.TypeMonitor:
		return "monitor"
	}
	if o.ServerType == config.TypeShoutcast {
		return fmt.Sprintf("%s://%s:%d", o.ServerType, o.Host, o.Port)
	}
	return fmt.Sprintf("%s://%s:%d%s", o.ServerType, o.Host, o.Port, sink.ServerInfo{Mount: o.Mount}.MountPath())
}

func buildSink(o config.Output, g config.General, enc encode.Config, monitors *[]*sink.MonitorSink) (sink.Sink, error) {
	switch o.ServerType {
	case config.TypeFile:
		return sink.NewFileSink(o.File, o.Append), nil
	case config.TypeMonitor:
		info := ServerInfo(o, enc, "")
		m := sink.NewMonitorSink(info.SampleRate, info.Channels)
		m.SetVolume(o.Volume)
		*monitors = append(*monitors, m)
		return m, nil
	}

	protocol, err := sink.ParseProtocol(o.ServerType)
	if err != nil {
		return nil, err
	}
	contentType, err := encode.ContentType(enc)
	if err != nil {
		return nil, err
	}

	opts := []sink.ServerOption{sink.WithWriteTimeout(WriteTimeout(g))}
	if o.Put {
		opts = append(opts, sink.WithPut())
	}
	return sink.Dial(protocol, ServerInfo(o, enc, contentType), opts...), nil
}

// WriteTimeout is the bound on one write to a streaming server
func WriteTimeout(g config.General) time.Duration {
	if g.WriteTimeoutMs <= 0 {
		return sink.DefaultWriteTimeout
	}
	return time.Duration(g.WriteTimeoutMs) * time.Millisecond
}

// Build creates the pipeline described by cfg
func Build(cfg *config.Config) (*Pipeline, error) {
	src, err := BuildSource(cfg.Input)
	if err != nil {
		return nil, errors.Wrap(err, "input")
	}
	format := src.Format()

	opts := []connector.Option{connector.WithMaxOutputs(cfg.General.MaxOutputs)}
	if cfg.General.QueueDepth > 0 {
		opts = append(opts,
			connector.WithQueueDepth(cfg.General.QueueDepth),
			connector.WithMaxOverflows(cfg.General.MaxOverflows),
		)
	}

	p := &Pipeline{
		Source:    src,
		Connector: connector.New(src, opts...),
		Targets:   make(map[string]string),
	}

	for _, o := range cfg.Outputs {
		encCfg, err := EncoderConfig(o, format)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", o.Name)
		}
		s, err := buildSink(o, cfg.General, encCfg, &p.Monitors)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", o.Name)
		}
		session, err := encode.New(s, encCfg)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", o.Name)
		}
		if err := p.Connector.Attach(o.Name, session); err != nil {
			return nil, err
		}
		p.Targets[o.Name] = Target(o)
		log.Debugf("Output %s: %s %s → %s", o.Name, o.Codec, session.ContentType(), p.Targets[o.Name])
	}

	if cfg.General.BufferSecs > 0 {
		log.Debugf("Buffer size: %d bytes (%d s of %s)", format.BytesPerSecond()*cfg.General.BufferSecs, cfg.General.BufferSecs, format)
	}

	return p, nil
}
