package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-rotlib/logger"
	"github.com/arloliu/go-rotlib/rotable"
)

// envPrefix prefixes every environment variable read by rotctl.
const envPrefix = "ROTCTL_"

// cliConfig is the rotctl configuration. Values are layered: defaults, then
// the YAML file, then ROTCTL_* environment variables, then flags.
type cliConfig struct {
	Port             string        `yaml:"port" env:"PORT"`
	BaudRate         int           `yaml:"baudRate" env:"BAUD_RATE"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout" env:"CONNECT_TIMEOUT"`
	ReferenceTimeout time.Duration `yaml:"referenceTimeout" env:"REFERENCE_TIMEOUT"`
	ReverseAngleDeg  float64       `yaml:"reverseAngleDeg" env:"REVERSE_ANGLE_DEG"`
	Verbose          bool          `yaml:"verbose" env:"VERBOSE"`
	Simulate         bool          `yaml:"simulate" env:"SIMULATE"`
	LogLevel         logger.Level  `yaml:"logLevel" env:"LOG_LEVEL"`
	ConsoleLog       bool          `yaml:"consoleLog" env:"CONSOLE_LOG"`
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		BaudRate:         rotable.DefaultBaudRate,
		Timeout:          rotable.DefaultTimeout,
		ConnectTimeout:   rotable.DefaultConnectTimeout,
		ReferenceTimeout: rotable.DefaultReferenceTimeout,
		ReverseAngleDeg:  mgl64.RadToDeg(rotable.DefaultReverseAngle),
		LogLevel:         logger.InfoLevel,
		ConsoleLog:       true,
	}
}

// loadConfig reads the optional YAML file at path and applies environment
// overrides. A nil environ reads the process environment.
func loadConfig(path string, environ map[string]string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// rotableConfig builds the connection configuration.
func (c cliConfig) rotableConfig(l logger.Logger) (*rotable.Config, error) {
	if !c.Simulate && c.Port == "" {
		return nil, errors.New("no serial port configured, use -port or ROTCTL_PORT")
	}

	return rotable.NewConfig(
		rotable.WithBaudRate(c.BaudRate),
		rotable.WithTimeout(c.Timeout),
		rotable.WithConnectTimeout(c.ConnectTimeout),
		rotable.WithDefaultReferenceTimeout(c.ReferenceTimeout),
		rotable.WithReverseAngle(mgl64.DegToRad(c.ReverseAngleDeg)),
		rotable.WithVerbose(c.Verbose),
		rotable.WithLogger(l),
	)
}

// newLogger builds the process logger writing to stderr.
func (c cliConfig) newLogger() logger.Logger {
	level := c.LogLevel
	if c.Verbose && level > logger.DebugLevel {
		level = logger.DebugLevel
	}

	return logger.New(logger.Options{
		Output:  os.Stderr,
		Level:   level,
		Console: c.ConsoleLog,
	})
}
