// Package config provides configuration loading for classprobe.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"classprobe/internal/bytecode"
	"classprobe/internal/logging"
	"classprobe/internal/pipeline"
	"classprobe/internal/probe"
)

// DefaultTarget is the method instrumented when none is configured.
const DefaultTarget = "onCreate"

// Config is the instrumentation configuration. Every field is optional in
// the YAML file; command line flags override it.
type Config struct {
	// Target is the name of the method(s) to instrument.
	Target string `yaml:"target"`
	// Descriptor, when set, restricts the match to one overload.
	Descriptor string `yaml:"descriptor"`
	// Label prefixes the printed duration. Empty means the default
	// "execute <target>() use time: ".
	Label string `yaml:"label"`
	// Unwind also instruments athrow exits.
	Unwind bool `yaml:"unwind"`
	// Strict fails when no method matches.
	Strict bool `yaml:"strict"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Target: DefaultTarget,
		Log:    LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	//nolint:gosec // G304: path comes from the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("config: target cannot be empty")
	}
	if c.Descriptor != "" {
		if _, _, err := bytecode.ParseMethodDescriptor(c.Descriptor); err != nil {
			return fmt.Errorf("config: descriptor: %w", err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TimeLabel returns the configured label or the default for the target.
func (c *Config) TimeLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return probe.DefaultLabel(c.Target)
}

// Logging returns the logger configuration.
func (c *Config) Logging(out io.Writer) logging.Config {
	return logging.Config{Level: c.Log.Level, Pretty: c.Log.Pretty, Output: out}
}

// Pipeline returns the options for one pipeline run.
func (c *Config) Pipeline() pipeline.Options {
	return pipeline.Options{
		Target:     c.Target,
		Descriptor: c.Descriptor,
		Label:      c.TimeLabel(),
		Unwind:     c.Unwind,
		Strict:     c.Strict,
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
