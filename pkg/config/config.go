// Package config loads the loopdeck YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	Loop       LoopConfig       `yaml:"loop"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Budget     BudgetConfig     `yaml:"budget"`
	Generation GenerationConfig `yaml:"generation"`
	Stream     StreamConfig     `yaml:"stream"`
	Log        LogConfig        `yaml:"log"`
}

// LoopConfig describes how to launch the loop CLI.
type LoopConfig struct {
	Binary           string `yaml:"binary"`
	WorkDir          string `yaml:"workdir"`
	TermGraceSeconds int    `yaml:"term_grace_seconds"`
	OutputBufferKB   int    `yaml:"output_buffer_kb"`
}

// ArtifactsConfig locates the durable planning artifacts.
type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

// BudgetConfig configures the admission gate.
type BudgetConfig struct {
	LedgerPath      string  `yaml:"ledger_path"`
	LimitUSD        float64 `yaml:"limit_usd"`
	PauseOnExceeded bool    `yaml:"pause_on_exceeded"`
}

// GenerationConfig bounds the generation manager.
type GenerationConfig struct {
	AwaitKeySeconds  int `yaml:"await_key_seconds"`
	ConfirmRetries   int `yaml:"confirm_retries"`
	ConfirmBackoffMS int `yaml:"confirm_backoff_ms"`
	MaxConcurrent    int `yaml:"max_concurrent"`
	ReapGraceSeconds int `yaml:"reap_grace_seconds"`
}

// StreamConfig tunes the live status stream.
type StreamConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: ":8484",
		Loop: LoopConfig{
			Binary:           "ralph",
			WorkDir:          ".",
			TermGraceSeconds: 10,
			OutputBufferKB:   64,
		},
		Artifacts: ArtifactsConfig{
			Root: ".loop/specs",
		},
		Budget: BudgetConfig{
			LedgerPath:      ".loop/spend.json",
			PauseOnExceeded: true,
		},
		Generation: GenerationConfig{
			AwaitKeySeconds:  30,
			ConfirmRetries:   10,
			ConfirmBackoffMS: 500,
			MaxConcurrent:    4,
			ReapGraceSeconds: 300,
		},
		Stream: StreamConfig{
			HeartbeatSeconds: 15,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path and merges it over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Loop.Binary == "" {
		return fmt.Errorf("loop.binary is required")
	}
	if c.Artifacts.Root == "" {
		return fmt.Errorf("artifacts.root is required")
	}
	if c.Generation.MaxConcurrent < 0 {
		return fmt.Errorf("generation.max_concurrent cannot be negative")
	}
	return nil
}

// TermGrace returns the loop termination grace as a duration.
func (c *Config) TermGrace() time.Duration {
	return time.Duration(c.Loop.TermGraceSeconds) * time.Second
}

// AwaitKeyTimeout returns the key announcement timeout as a duration.
func (c *Config) AwaitKeyTimeout() time.Duration {
	return time.Duration(c.Generation.AwaitKeySeconds) * time.Second
}

// ConfirmBackoff returns the artifact confirmation backoff as a duration.
func (c *Config) ConfirmBackoff() time.Duration {
	return time.Duration(c.Generation.ConfirmBackoffMS) * time.Millisecond
}

// ReapGrace returns the terminal entry retention window as a duration.
func (c *Config) ReapGrace() time.Duration {
	return time.Duration(c.Generation.ReapGraceSeconds) * time.Second
}

// Heartbeat returns the SSE keep-alive interval as a duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Stream.HeartbeatSeconds) * time.Second
}

// OutputBufferBytes returns the per-stream process buffer size in bytes.
func (c *Config) OutputBufferBytes() int {
	return c.Loop.OutputBufferKB * 1024
}
