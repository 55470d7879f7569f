package rotable

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-rotlib/logger"
)

// Default values matching the firmware's serial setup.
const (
	DefaultBaudRate = 115200

	DefaultTimeout          = 5 * time.Second   // per-line read timeout
	DefaultConnectTimeout   = 5 * time.Second   // "test" handshake timeout
	DefaultReferenceTimeout = 120 * time.Second // reference run timeout

	// DefaultReverseAngle is the angle backed off before a reference run,
	// 35 steps of a 3200-step axis.
	DefaultReverseAngle = 3.9375 * math.Pi / 180

	// DefaultHallSamples is the sample count used by ReadHall when the
	// caller passes a non-positive value.
	DefaultHallSamples = 100
)

// Range limits for configuration values.
const (
	MinTimeout = 1 * time.Millisecond

	MaxReverseAngle = math.Pi
)

// Config holds the configuration of a rotation table connection.
//
// A Config is immutable once built and may be shared between connections.
type Config struct {
	baudRate int

	// timeout bounds each single-response read.
	timeout time.Duration
	// connectTimeout bounds the whole handshake.
	connectTimeout time.Duration
	// referenceTimeout bounds a reference run; <= 0 waits indefinitely.
	referenceTimeout time.Duration

	reverseAngle float64

	verbose bool
	logger  logger.Logger
}

// NewConfig creates a connection configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		baudRate:         DefaultBaudRate,
		timeout:          DefaultTimeout,
		connectTimeout:   DefaultConnectTimeout,
		referenceTimeout: DefaultReferenceTimeout,
		reverseAngle:     DefaultReverseAngle,
		logger:           logger.GetLogger(),
	}
}

// BaudRate returns the serial line speed used by Dial.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// Timeout returns the per-line read timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// ConnectTimeout returns the handshake timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// ReferenceTimeout returns the default reference run timeout.
// A value <= 0 means reference runs wait indefinitely.
func (cfg *Config) ReferenceTimeout() time.Duration { return cfg.referenceTimeout }

// ReverseAngle returns the angle, in radians, backed off before a reference run.
func (cfg *Config) ReverseAngle() float64 { return cfg.reverseAngle }

// Verbose reports whether every line sent and received is logged.
func (cfg *Config) Verbose() bool { return cfg.verbose }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the serial line speed. The firmware runs at 115200.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("rotable: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithTimeout sets the per-line read timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinTimeout {
			return fmt.Errorf("rotable: timeout %v below minimum %v", d, MinTimeout)
		}
		cfg.timeout = d

		return nil
	})
}

// WithConnectTimeout sets the handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("rotable: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithDefaultReferenceTimeout sets the timeout of reference runs that do not
// pass WithReferenceTimeout. A value <= 0 waits indefinitely.
func WithDefaultReferenceTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.referenceTimeout = d

		return nil
	})
}

// WithReverseAngle sets the angle, in radians, backed off before a
// reference run. Must be in [0, π).
func WithReverseAngle(radians float64) Option {
	return optFunc(func(cfg *Config) error {
		if math.IsNaN(radians) || radians < 0 || radians >= MaxReverseAngle {
			return fmt.Errorf("rotable: reverse angle %v out of range [0, π)", radians)
		}
		cfg.reverseAngle = radians

		return nil
	})
}

// WithVerbose enables debug logging of every line sent and received.
func WithVerbose(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.verbose = enabled

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("rotable: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
