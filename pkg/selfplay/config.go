package selfplay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sente/pkg/nn"
	"sente/pkg/rl"
)

// Config drives a full training run. It is loaded from a config.json
// found by walking up from the working directory.
type Config struct {
	Epochs          int     `json:"epochs"`
	BufferSize      int     `json:"buffer_size"`
	Gamma           float64 `json:"gamma"`
	Lambda          float64 `json:"lambda"`
	Workers         int     `json:"workers"`
	MoveLimit       int     `json:"move_limit"`
	CheckpointEvery int     `json:"checkpoint_every"`
	RecordPath      string  `json:"record_path"`
	KIFDir          string  `json:"kif_dir"`

	Network nn.Config `json:"network"`
}

// DefaultConfig returns a runnable configuration.
func DefaultConfig() Config {
	return Config{
		Epochs:          100,
		BufferSize:      4096,
		Gamma:           0.99,
		Lambda:          0.95,
		Workers:         1,
		MoveLimit:       512,
		CheckpointEvery: 10,
		Network:         nn.DefaultConfig(),
	}
}

// Validate checks the run parameters together with the nested network
// configuration.
func (c *Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return &rl.ConfigurationError{Field: "epochs", Reason: "must be positive"}
	case c.BufferSize <= 0:
		return &rl.ConfigurationError{Field: "buffer_size", Reason: "must be positive"}
	case c.Gamma < 0 || c.Gamma > 1:
		return &rl.ConfigurationError{Field: "gamma", Reason: "must be in [0, 1]"}
	case c.Lambda < 0 || c.Lambda > 1:
		return &rl.ConfigurationError{Field: "lambda", Reason: "must be in [0, 1]"}
	case c.Workers < 0:
		return &rl.ConfigurationError{Field: "workers", Reason: "must be non-negative"}
	case c.MoveLimit < 0:
		return &rl.ConfigurationError{Field: "move_limit", Reason: "must be non-negative"}
	case c.CheckpointEvery < 0:
		return &rl.ConfigurationError{Field: "checkpoint_every", Reason: "must be non-negative"}
	case c.MoveLimit > 0 && c.BufferSize < c.MoveLimit:
		// A buffer smaller than one full episode could never ingest
		// it whole and would carry it forever.
		return &rl.ConfigurationError{Field: "buffer_size", Reason: "must be at least move_limit"}
	}
	return c.Network.Validate()
}

// FindConfigPath walks from the working directory toward the
// filesystem root looking for config.json. It returns the config path
// and its directory.
func FindConfigPath() (string, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	dir := cwd
	for {
		path := filepath.Join(dir, "config.json")
		if _, err := os.Stat(path); err == nil {
			return path, filepath.Dir(path), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", fmt.Errorf("config.json not found from %s", cwd)
}

// LoadConfig reads and validates a config file. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
