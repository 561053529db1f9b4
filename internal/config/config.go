// Package config loads the avdecode configuration file. Decoding is strict:
// unknown fields are rejected, and unset fields get explicit defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete avdecode configuration.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Input    InputConfig  `yaml:"input"`
	Decode   DecodeConfig `yaml:"decode"`
	Output   OutputConfig `yaml:"output"`
	Server   ServerConfig `yaml:"server"`
}

// InputConfig maps to av.Options.
type InputConfig struct {
	Format      string        `yaml:"format,omitempty"` // Force a container format
	NonBlocking bool          `yaml:"non_blocking"`
	Timeout     time.Duration `yaml:"timeout"`    // Network connection setup
	ProbeSize   int           `yaml:"probe_size"` // Bytes inspected by format probing
}

// DecodeConfig selects streams and decoders.
type DecodeConfig struct {
	Streams           []int         `yaml:"streams,omitempty"` // Empty: best video and audio
	PreferredDecoders []string      `yaml:"preferred_decoders,omitempty"`
	Threads           int           `yaml:"threads"`
	QueueSize         int           `yaml:"queue_size"`
	BackoffMin        time.Duration `yaml:"backoff_min"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// OutputConfig is the conversion target. Empty fields keep the decoded value.
type OutputConfig struct {
	PixelFormat  string `yaml:"pixel_format,omitempty"`
	Width        int    `yaml:"width,omitempty"`
	Height       int    `yaml:"height,omitempty"`
	ScaleMode    string `yaml:"scale_mode,omitempty"`
	SampleFormat string `yaml:"sample_format,omitempty"`
	Channels     int    `yaml:"channels,omitempty"`
	SampleRate   int    `yaml:"sample_rate,omitempty"`
	MaxBytes     int    `yaml:"max_bytes,omitempty"`
}

// ServerConfig defines the HTTP control API.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxSessions int    `yaml:"max_sessions"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Load reads configuration from a YAML file.
// Returns an error if the file cannot be read or decoded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults applies explicit default values to unset fields.
func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Input.Timeout == 0 {
		c.Input.Timeout = 10 * time.Second
	}
	if c.Input.ProbeSize == 0 {
		c.Input.ProbeSize = 2048
	}
	if c.Decode.QueueSize == 0 {
		c.Decode.QueueSize = 8
	}
	if c.Decode.BackoffMin == 0 {
		c.Decode.BackoffMin = time.Millisecond
	}
	if c.Decode.BackoffMax == 0 {
		c.Decode.BackoffMax = 100 * time.Millisecond
	}
	if c.Output.ScaleMode == "" {
		c.Output.ScaleMode = "fit"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = 16
	}
}
