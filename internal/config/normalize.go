package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	if err := c.normalizePrediction(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.ComfyUIDir, err = expandPath(strings.TrimSpace(c.Paths.ComfyUIDir)); err != nil {
		return fmt.Errorf("paths.comfyui_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" && c.Paths.ComfyUIDir != "" {
		c.Paths.TempDir = filepath.Join(c.Paths.ComfyUIDir, "temp")
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.CheckpointsDir, err = expandPath(strings.TrimSpace(c.Paths.CheckpointsDir)); err != nil {
		return fmt.Errorf("paths.checkpoints_dir: %w", err)
	}
	if c.Paths.LockFile, err = expandPath(strings.TrimSpace(c.Paths.LockFile)); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	if value, ok := os.LookupEnv(AddressEnv); ok && strings.TrimSpace(value) != "" {
		c.Server.Address = value
	}
	c.Server.Address = strings.TrimSpace(c.Server.Address)
	c.Server.Address = strings.TrimPrefix(c.Server.Address, "http://")
	c.Server.Address = strings.TrimRight(c.Server.Address, "/")
	c.Server.Python = strings.TrimSpace(c.Server.Python)
	if c.Server.Python == "" {
		c.Server.Python = defaultPython
	}
	c.Server.MainScript = strings.TrimSpace(c.Server.MainScript)
	if c.Server.MainScript == "" {
		c.Server.MainScript = defaultMainScript
	}
	if c.Server.StartupTimeout <= 0 {
		c.Server.StartupTimeout = defaultStartupTimeout
	}
}

func (c *Config) normalizePrediction() error {
	if path := strings.TrimSpace(c.Prediction.DefaultWorkflow); path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return fmt.Errorf("prediction.default_workflow: %w", err)
		}
		c.Prediction.DefaultWorkflow = expanded
	}
	exclude := c.Outputs.Exclude[:0]
	for _, pattern := range c.Outputs.Exclude {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			exclude = append(exclude, pattern)
		}
	}
	c.Outputs.Exclude = exclude
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
}
