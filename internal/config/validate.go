package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePrediction(); err != nil {
		return err
	}
	if err := c.validateOutputs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	named := []struct {
		key   string
		value string
	}{
		{"paths.input_dir", c.Paths.InputDir},
		{"paths.output_dir", c.Paths.OutputDir},
		{"paths.temp_dir", c.Paths.TempDir},
		{"paths.comfyui_dir", c.Paths.ComfyUIDir},
	}
	seen := make(map[string]string, len(named))
	for _, entry := range named {
		if entry.value == "" {
			return fmt.Errorf("%s must be set", entry.key)
		}
		if entry.key == "paths.comfyui_dir" {
			continue
		}
		if prev, ok := seen[entry.value]; ok {
			return fmt.Errorf("%s and %s must differ (both %q)", prev, entry.key, entry.value)
		}
		seen[entry.value] = entry.key
	}
	for _, scratch := range []string{c.Paths.InputDir, c.Paths.OutputDir, c.Paths.TempDir} {
		if scratch == filepath.Dir(scratch) {
			return fmt.Errorf("scratch directory %q cannot be a filesystem root", scratch)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Address == "" {
		return errors.New("server.address must be set")
	}
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("server.address %q must be host:port: %w", c.Server.Address, err)
	}
	return nil
}

func (c *Config) validatePrediction() error {
	if c.Prediction.OutputQuality < 0 || c.Prediction.OutputQuality > 100 {
		return fmt.Errorf("prediction.output_quality must be between 0 and 100, got %d", c.Prediction.OutputQuality)
	}
	return nil
}

func (c *Config) validateOutputs() error {
	for _, pattern := range c.Outputs.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("outputs.exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
}
