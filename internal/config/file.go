package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the project-local config file.
const ConfigFileName = ".dupfind.json"

// fileConfig is the subset of options a config file may default. Flags
// always win over file values.
type fileConfig struct {
	Workers     *int     `json:"workers,omitempty"`
	Threshold   *string  `json:"threshold,omitempty"`
	IgnoreNames []string `json:"ignore_names,omitempty"`
	CachePath   *string  `json:"cache,omitempty"`
	MetricsAddr *string  `json:"metrics_addr,omitempty"`
}

// globalConfigPath resolves $XDG_CONFIG_HOME/dupfind/config.json, falling
// back to ~/.config/dupfind/config.json.
func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dupfind", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dupfind", "config.json")
}

// applyFileDefaults merges the global and project config files (in that
// order) into opts. Missing files are fine; malformed ones are errors.
func applyFileDefaults(opts *Options) error {
	for _, path := range []string{globalConfigPath(), ConfigFileName} {
		if path == "" {
			continue
		}
		if err := mergeFile(opts, path); err != nil {
			return err
		}
	}
	return nil
}

func mergeFile(opts *Options, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(std, &fc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, path, err)
	}

	if fc.Workers != nil {
		opts.Workers = *fc.Workers
	}
	if fc.Threshold != nil {
		v, err := ParseSize(*fc.Threshold)
		if err != nil {
			return fmt.Errorf("%w: %s: threshold: %v", ErrInvalidArgument, path, err)
		}
		opts.Threshold = v
	}
	if len(fc.IgnoreNames) > 0 {
		opts.IgnoreNames = append(opts.IgnoreNames, fc.IgnoreNames...)
	}
	if fc.CachePath != nil {
		opts.CachePath = *fc.CachePath
	}
	if fc.MetricsAddr != nil {
		opts.MetricsAddr = *fc.MetricsAddr
	}
	return nil
}
