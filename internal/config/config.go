// ABOUTME: Caster configuration loading
// ABOUTME: Reads YAML via viper with .env and CASTER_ environment overrides
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Sendspin/sendspin-caster/internal/version"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CASTER"

// Server types of an output
const (
	TypeIcecast2  = "icecast2"
	TypeIcecast   = "icecast"
	TypeShoutcast = "shoutcast"
	TypeFile      = "file"
	TypeMonitor   = "monitor"
)

// Config is the whole caster configuration
type Config struct {
	General General  `mapstructure:"general"`
	Input   Input    `mapstructure:"input"`
	Outputs []Output `mapstructure:"outputs"`
	Status  Status   `mapstructure:"status"`
}

// General holds run-wide settings
type General struct {
	// Duration in seconds, 0 runs until stopped
	Duration   int  `mapstructure:"duration"`
	BufferSecs int  `mapstructure:"buffer_secs"`
	ChunkSize  int  `mapstructure:"chunk_size"`
	Realtime   bool `mapstructure:"realtime"`
	// QueueDepth > 0 gives every output its own worker
	QueueDepth   int `mapstructure:"queue_depth"`
	MaxOverflows int `mapstructure:"max_overflows"`
	MinOutputs   int `mapstructure:"min_outputs"`
	MaxOutputs   int `mapstructure:"max_outputs"`
	// WriteTimeoutMs bounds one write to a streaming server, 0 uses the default
	WriteTimeoutMs int `mapstructure:"write_timeout_ms"`
}

// Input describes the capture device
type Input struct {
	Backend       string `mapstructure:"backend"`
	Device        string `mapstructure:"device"`
	SampleRate    int    `mapstructure:"sample_rate"`
	BitsPerSample int    `mapstructure:"bits_per_sample"`
	Channels      int    `mapstructure:"channels"`
	BigEndian     bool   `mapstructure:"big_endian"`
	Paced         bool   `mapstructure:"paced"`
}

// Output is one encoder and its destination
type Output struct {
	Name       string `mapstructure:"name"`
	Codec      string `mapstructure:"codec"`
	ServerType string `mapstructure:"server_type"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Mount    string `mapstructure:"mount"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// Put uses HTTP PUT instead of SOURCE for icecast2
	Put bool `mapstructure:"put"`

	StreamName  string `mapstructure:"stream_name"`
	Description string `mapstructure:"description"`
	Genre       string `mapstructure:"genre"`
	URL         string `mapstructure:"url"`
	Public      bool   `mapstructure:"public"`
	// DumpFile asks an icecast 1.x server to record the stream
	DumpFile string `mapstructure:"dump_file"`

	Bitrate     int     `mapstructure:"bitrate"`
	MaxBitrate  int     `mapstructure:"max_bitrate"`
	BitrateMode string  `mapstructure:"bitrate_mode"`
	Quality     float64 `mapstructure:"quality"`
	SampleRate  int     `mapstructure:"sample_rate"`
	Channels    int     `mapstructure:"channels"`
	BigEndian   bool    `mapstructure:"big_endian"`

	// File is the path of a file output
	File   string `mapstructure:"file"`
	Append bool   `mapstructure:"append"`

	// Volume of a monitor output in percent
	Volume int `mapstructure:"volume"`
}

// Status configures the status feed
type Status struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	MDNS    bool   `mapstructure:"mdns"`
	Name    string `mapstructure:"name"`
}

// IsServer reports whether the output streams to a network server
func (o Output) IsServer() bool {
	switch o.ServerType {
	case TypeIcecast2, TypeIcecast, TypeShoutcast:
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.duration", 0)
	v.SetDefault("general.buffer_secs", 1)
	v.SetDefault("general.chunk_size", 4096)
	v.SetDefault("general.realtime", true)
	v.SetDefault("general.queue_depth", 0)
	v.SetDefault("general.max_overflows", 8)
	v.SetDefault("general.min_outputs", 1)
	v.SetDefault("general.max_outputs", 0)
	v.SetDefault("general.write_timeout_ms", 1000)

	v.SetDefault("input.backend", "tone")
	v.SetDefault("input.device", "")
	v.SetDefault("input.sample_rate", 44100)
	v.SetDefault("input.bits_per_sample", 16)
	v.SetDefault("input.channels", 2)
	v.SetDefault("input.big_endian", false)
	v.SetDefault("input.paced", true)

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8927)
	v.SetDefault("status.mdns", false)
	v.SetDefault("status.name", version.Product)
}

// SearchPaths returns the directories searched for config.yaml
func SearchPaths() []string {
	return []string{
		".",
		filepath.Join(xdg.ConfigHome, version.Product),
		filepath.Join("/etc", version.Product),
	}
}

// Load reads the configuration. An empty path searches SearchPaths for
// config.yaml; a missing file there is not an error. A .env file in the
// working directory is loaded first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrap(err, "read config")
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debugf("Using config file %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	cfg.applyOutputEnv()
	cfg.fillOutputDefaults()
	return &cfg, nil
}

// envName maps an output name to its env prefix, "main-hi" → CASTER_MAIN_HI
func envName(name string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	b.WriteByte('_')
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// applyOutputEnv lets CASTER_<NAME>_PASSWORD override an output password.
// Viper cannot bind env vars into list elements.
func (c *Config) applyOutputEnv() {
	for i := range c.Outputs {
		if pw, ok := os.LookupEnv(envName(c.Outputs[i].Name) + "_PASSWORD"); ok {
			c.Outputs[i].Password = pw
		}
	}
}

func (c *Config) fillOutputDefaults() {
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.ServerType == "" {
			o.ServerType = TypeIcecast2
		}
		if o.Codec == "" {
			o.Codec = "opus"
		}
		if o.Bitrate == 0 {
			o.Bitrate = 128
		}
		if o.Quality == 0 {
			o.Quality = 0.8
		}
		if o.Volume == 0 {
			o.Volume = 100
		}
		if o.Mount == "" && o.IsServer() {
			o.Mount = o.Name
		}
	}
}
