// Package config loads the optional simreap config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simfleet/simreap/internal/reclaim"
)

// DefaultSimctlTimeout bounds the whole reclaim run so a stalled simctl
// invocation cannot hang the CI host's maintenance schedule.
const DefaultSimctlTimeout = 5 * time.Minute

// Config holds the settings read from ~/.simreap/config.yaml, with
// defaults filled in. Command-line flags override anything set here.
type Config struct {
	// LeaseDir is the directory holding keepalive marker files.
	LeaseDir string
	// MaxAge is the staleness threshold for unleased devices.
	MaxAge time.Duration
	// SimctlTimeout is the deadline for one whole run.
	SimctlTimeout time.Duration
	// XcrunPath overrides where xcrun is found. Empty means PATH lookup.
	XcrunPath string
}

// rawConfig is the YAML shape of the config file. Durations are strings
// in time.ParseDuration syntax.
type rawConfig struct {
	LeaseDir      string `yaml:"lease_dir"`
	MaxAge        string `yaml:"max_age"`
	SimctlTimeout string `yaml:"simctl_timeout"`
	XcrunPath     string `yaml:"xcrun_path"`
}

// Load reads ~/.simreap/config.yaml. A missing file yields the defaults.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return loadFrom(filepath.Join(homeDir, ".simreap", "config.yaml"), homeDir)
}

func loadFrom(path, homeDir string) (*Config, error) {
	cfg := &Config{
		LeaseDir:      filepath.Join(homeDir, ".simreap", "leases"),
		MaxAge:        reclaim.DefaultMaxAge,
		SimctlTimeout: DefaultSimctlTimeout,
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is ~/.simreap/config.yaml
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config.yaml: %w", err)
	}

	if raw.LeaseDir != "" {
		cfg.LeaseDir = expandTilde(raw.LeaseDir, homeDir)
	}
	if raw.XcrunPath != "" {
		cfg.XcrunPath = raw.XcrunPath
	}
	if raw.MaxAge != "" {
		d, err := time.ParseDuration(raw.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("parse max_age: %w", err)
		}
		cfg.MaxAge = d
	}
	if raw.SimctlTimeout != "" {
		d, err := time.ParseDuration(raw.SimctlTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse simctl_timeout: %w", err)
		}
		cfg.SimctlTimeout = d
	}

	return cfg, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
