package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
	"github.com/modelingevolution/zerobuffer-go/internal/logging"
)

// Config is the relay configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Input is the name of the ring the relay reads from. The relay
	// creates this ring.
	Input string `yaml:"input"`
	// Output is the name of the ring the relay writes into. That ring's
	// reader must already be running.
	Output string `yaml:"output"`
	// Buffer is the geometry of the input ring.
	Buffer zerobuffer.BufferConfig `yaml:"buffer"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Buffer: zerobuffer.BufferConfig{
			MetadataSize: 4 * datasize.KB,
			PayloadSize:  datasize.MB,
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}
