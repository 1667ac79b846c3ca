package config

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"
const DefaultSecurePort = "443"

const BuffioSize = 1024 * 64

// Chunk size every RTMP peer starts with, before a Set Chunk Size message is exchanged.
const DefaultChunkSize uint32 = 128

// Chunk size sent to the server once the connection is accepted.
const DefaultOutChunkSize uint32 = 8192

// Window Ack Size assumed for the server until it sends its own.
const DefaultServerWindowSize uint32 = 250000

// Window Ack Size sent back in reply to the server's.
const DefaultClientWindowSize uint32 = 100000

const DefaultFlashVer = "FMLE/3.0 (compatible; FMSc/1.0)"

const DefaultConnectTimeout = 15 * time.Second
const DefaultTickInterval = time.Second

// Capabilities advertised in the connect command object.
const Capabilities int = 239
const AudioCodecs int = 0x0400
const VideoCodecs int = 0x0080
const VideoFunction int = 1

var ErrMissingURL = errors.New("config: url is required")
var ErrInvalidChunkSize = errors.New("config: chunk size must be between 1 and 0x7FFFFFFF")

// Config holds the settings of a publishing client.
type Config struct {
	URL       string `yaml:"url"`        // rtmp:// or rtmps:// URL, optionally with user:password
	StreamKey string `yaml:"stream_key"` // Stream name, defaults to the last path element of URL

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ChunkSize      uint32        `yaml:"chunk_size"`  // Outbound chunk size negotiated after connect
	WindowSize     uint32        `yaml:"window_size"` // Window Ack Size replied to the server
	FlashVer       string        `yaml:"flash_ver"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
	Debug bool   `yaml:"debug"` // Development logger when true
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads configuration from a YAML file. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// LoadEnv loads the given .env file into the process environment when it exists. Variables from the file
// override ones already set.
func LoadEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	if err := godotenv.Overload(file); err != nil {
		return errors.Wrapf(err, "load %v", file)
	}
	return nil
}

// ApplyEnv overrides fields from RTMP_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("RTMP_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("RTMP_STREAM_KEY"); v != "" {
		c.StreamKey = v
	}
	if v := os.Getenv("RTMP_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "RTMP_CONNECT_TIMEOUT=%v", v)
		}
		c.ConnectTimeout = d
	}
	if v := os.Getenv("RTMP_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "RTMP_CHUNK_SIZE=%v", v)
		}
		c.ChunkSize = uint32(n)
	}
	if v := os.Getenv("RTMP_FLASH_VER"); v != "" {
		c.FlashVer = v
	}
	if v := os.Getenv("RTMP_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate reports the first setting that can't be used to publish.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	if c.ChunkSize < 1 || c.ChunkSize > 0x7FFFFFFF {
		return errors.Wrapf(ErrInvalidChunkSize, "got %d", c.ChunkSize)
	}
	if c.ConnectTimeout <= 0 {
		return errors.Errorf("config: connect timeout must be positive, got %v", c.ConnectTimeout)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

func (c *Config) SetDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultOutChunkSize
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultClientWindowSize
	}
	if c.FlashVer == "" {
		c.FlashVer = DefaultFlashVer
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
