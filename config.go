package mediagraph

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config file locations (priority order):
//  1. $MEDIAGRAPH_CONFIG
//  2. ./mediagraph.yaml
//  3. ~/.config/mediagraph/config.yaml
const configEnvVar = "MEDIAGRAPH_CONFIG"

// Config is the file form of a controller configuration.
type Config struct {
	URI          string           `yaml:"uri"`
	LogLevel     string           `yaml:"log_level"`
	SinkBuffers  int              `yaml:"sink_buffers"`
	Source       string           `yaml:"source,omitempty"`        // Source capability override
	PayloadTypes map[uint8]string `yaml:"payload_types,omitempty"` // pt -> type/encoding/rate[/channels]
	OpusLibrary  string           `yaml:"opus_library,omitempty"`  // Path to libstream_opus
}

// DefaultConfig returns the defaults used when no file is found.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		SinkBuffers: DefaultSinkBuffers,
	}
}

// FindConfigPath returns the first config file that exists, or "".
func FindConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	candidates := []string{"./mediagraph.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "mediagraph", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadConfig finds and loads the config file, or returns defaults if none
// is found. The path used is returned as well.
func LoadConfig() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadConfigFromPath(path)
}

// LoadConfigFromPath loads config from a specific path.
func LoadConfigFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, errors.Wrap(err, "parse config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SinkBuffers <= 0 {
		c.SinkBuffers = DefaultSinkBuffers
	}
}

// Validate checks the log level and payload type map.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	for pt, codec := range c.PayloadTypes {
		if pt > 127 {
			return errors.Errorf("payload_types: %d is not a payload type", pt)
		}
		if _, err := ParseCodec(codec); err != nil {
			return errors.Wrapf(err, "payload_types[%d]", pt)
		}
	}
	return nil
}

// Level returns the configured log level, info if unparsable.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Apply registers the payload types and points the Opus loader at the
// configured library. Call it before creating controllers.
func (c *Config) Apply() error {
	for pt, s := range c.PayloadTypes {
		codec, err := ParseCodec(s)
		if err != nil {
			return errors.Wrapf(err, "payload_types[%d]", pt)
		}
		RegisterPayloadType(pt, codec)
	}
	if c.OpusLibrary != "" {
		if err := os.Setenv("STREAM_OPUS_LIB_PATH", c.OpusLibrary); err != nil {
			return errors.Wrap(err, "opus_library")
		}
	}
	return nil
}

// ControllerConfig converts the file config. uri overrides the file's URI
// when not empty.
func (c *Config) ControllerConfig(uri string, logger *zerolog.Logger) ControllerConfig {
	if uri == "" {
		uri = c.URI
	}
	return ControllerConfig{
		URI:         uri,
		Source:      c.Source,
		SinkBuffers: c.SinkBuffers,
		Logger:      logger,
	}
}
