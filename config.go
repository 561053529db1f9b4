package av

import (
	"time"

	"github.com/rs/zerolog"
)

// BackoffFunc returns how long to wait before retry number attempt (starting
// at 0) after a WouldBlock result.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles the delay on every attempt, from min up to max.
func ExponentialBackoff(min, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := min
		for i := 0; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// Config configures a Pipeline.
type Config struct {
	// Open configures the input. Its Logger defaults to Logger.
	Open Options

	// Streams lists the stream indices to decode. Empty selects the best
	// video and the best audio stream.
	Streams []int
	// Decoder configures every decoder the pipeline opens.
	Decoder DecoderOptions
	// Target converts decoded frames. The zero value passes frames through.
	Target Target

	QueueSize int         // Frames buffered between worker and consumer (default: 8)
	Backoff   BackoffFunc // Delay between WouldBlock retries (default: 1ms..100ms)
	Logger    *zerolog.Logger
}

const (
	defaultQueueSize  = 8
	defaultBackoffMin = time.Millisecond
	defaultBackoffMax = 100 * time.Millisecond
)

// DefaultConfig returns a default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize: defaultQueueSize,
		Backoff:   ExponentialBackoff(defaultBackoffMin, defaultBackoffMax),
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(defaultBackoffMin, defaultBackoffMax)
	}
	if c.Open.Logger == nil {
		c.Open.Logger = c.Logger
	}
	if c.Decoder.Logger == nil {
		c.Decoder.Logger = c.Logger
	}
	return c
}
