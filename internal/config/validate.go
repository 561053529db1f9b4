package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thesyncim/av"
)

// Validate checks that all configuration values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input config: %w", err)
	}
	if err := c.Decode.Validate(); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if _, err := c.Output.Target(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server config: max_sessions must not be negative, got %d", c.Server.MaxSessions)
	}
	return nil
}

// Validate checks input settings.
func (i *InputConfig) Validate() error {
	if i.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", i.Timeout)
	}
	if i.ProbeSize < 0 {
		return fmt.Errorf("probe_size must not be negative, got %d", i.ProbeSize)
	}
	if i.Format != "" {
		known := false
		for _, f := range av.Formats() {
			known = known || f == i.Format
		}
		if !known {
			return fmt.Errorf("unknown format %q", i.Format)
		}
	}
	return nil
}

// Validate checks decode settings.
func (d *DecodeConfig) Validate() error {
	for _, s := range d.Streams {
		if s < 0 {
			return fmt.Errorf("stream index must not be negative, got %d", s)
		}
	}
	if d.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", d.Threads)
	}
	if d.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", d.QueueSize)
	}
	if d.BackoffMin <= 0 || d.BackoffMax < d.BackoffMin {
		return fmt.Errorf("backoff must satisfy 0 < backoff_min <= backoff_max, got %s and %s", d.BackoffMin, d.BackoffMax)
	}
	return nil
}

// Target converts the output section into a conversion target.
func (o *OutputConfig) Target() (av.Target, error) {
	var t av.Target
	if o.PixelFormat != "" {
		pf, ok := av.PixelFormatByName(o.PixelFormat)
		if !ok {
			return t, fmt.Errorf("unknown pixel_format %q", o.PixelFormat)
		}
		t.PixelFormat = pf
	}
	if o.Width < 0 || o.Height < 0 {
		return t, fmt.Errorf("width and height must not be negative, got %dx%d", o.Width, o.Height)
	}
	t.Width, t.Height = o.Width, o.Height

	mode, ok := av.ScaleModeByName(o.ScaleMode)
	if !ok {
		return t, fmt.Errorf("unknown scale_mode %q", o.ScaleMode)
	}
	t.ScaleMode = mode

	if o.SampleFormat != "" {
		sf, ok := av.SampleFormatByName(o.SampleFormat)
		if !ok {
			return t, fmt.Errorf("unknown sample_format %q", o.SampleFormat)
		}
		t.SampleFormat = sf
	}
	if o.Channels < 0 || o.SampleRate < 0 || o.MaxBytes < 0 {
		return t, fmt.Errorf("channels, sample_rate and max_bytes must not be negative")
	}
	t.Layout = av.DefaultChannelLayout(o.Channels)
	t.SampleRate = o.SampleRate
	t.MaxBytes = o.MaxBytes
	return t, nil
}

// Pipeline builds the pipeline configuration. The configuration must have
// passed Validate.
func (c *Config) Pipeline(log *zerolog.Logger) (av.Config, error) {
	target, err := c.Output.Target()
	if err != nil {
		return av.Config{}, err
	}
	return av.Config{
		Open: av.Options{
			Format:      c.Input.Format,
			NonBlocking: c.Input.NonBlocking,
			Timeout:     c.Input.Timeout,
			ProbeSize:   c.Input.ProbeSize,
		},
		Streams: c.Decode.Streams,
		Decoder: av.DecoderOptions{
			PreferredDecoders: c.Decode.PreferredDecoders,
			Threads:           c.Decode.Threads,
		},
		Target:    target,
		QueueSize: c.Decode.QueueSize,
		Backoff:   av.ExponentialBackoff(c.Decode.BackoffMin, c.Decode.BackoffMax),
		Logger:    log,
	}, nil
}
