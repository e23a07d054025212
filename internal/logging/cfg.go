package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level. The ring protocol logs nothing on its
	// hot path, so info stays quiet during steady-state transfers; the
	// test binaries raise this to debug with --verbose.
	Level zapcore.Level `yaml:"level"`
}

// DefaultConfig returns the level the binaries start with.
func DefaultConfig() Config {
	return Config{
		Level: zapcore.InfoLevel,
	}
}
