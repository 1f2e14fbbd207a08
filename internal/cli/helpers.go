package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/simfleet/simreap/internal/config"
)

// runSettings is the merged flag-over-config view a command runs with.
type runSettings struct {
	LeaseDir  string
	MaxAge    time.Duration
	Timeout   time.Duration
	XcrunPath string
}

// resolveSettings loads the config file and applies any flag overrides.
// Flags a command doesn't define are simply skipped.
func resolveSettings(cmd *cobra.Command) (runSettings, error) {
	cfg, err := config.Load()
	if err != nil {
		return runSettings{}, &ConfigError{Err: err}
	}

	s := runSettings{
		LeaseDir:  cfg.LeaseDir,
		MaxAge:    cfg.MaxAge,
		Timeout:   cfg.SimctlTimeout,
		XcrunPath: cfg.XcrunPath,
	}

	if v, err := cmd.Flags().GetString("lease-dir"); err == nil && v != "" {
		s.LeaseDir = v
	}
	if v, err := cmd.Flags().GetString("xcrun"); err == nil && v != "" {
		s.XcrunPath = v
	}
	if v, err := cmd.Flags().GetDuration("max-age"); err == nil && v != 0 {
		if v < 0 {
			return runSettings{}, NewUsageError("--max-age must be positive, got %s", v)
		}
		s.MaxAge = v
	}
	if v, err := cmd.Flags().GetDuration("timeout"); err == nil && v != 0 {
		if v < 0 {
			return runSettings{}, NewUsageError("--timeout must be positive, got %s", v)
		}
		s.Timeout = v
	}

	return s, nil
}
