package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the filesystem layout the adapter stages into.
type Paths struct {
	InputDir       string `toml:"input_dir"`
	OutputDir      string `toml:"output_dir"`
	ComfyUIDir     string `toml:"comfyui_dir"`
	TempDir        string `toml:"temp_dir"`
	CheckpointsDir string `toml:"checkpoints_dir"`
	LockFile       string `toml:"lock_file"`
}

// Server describes how to launch and reach the external ComfyUI server.
type Server struct {
	Address        string   `toml:"address"`
	Launch         bool     `toml:"launch"`
	Python         string   `toml:"python"`
	MainScript     string   `toml:"main_script"`
	StartupTimeout int      `toml:"startup_timeout"`
	ExtraArgs      []string `toml:"extra_args"`
}

// Prediction holds the defaults applied when a request leaves a flag unset.
type Prediction struct {
	ReturnTempFiles      bool   `toml:"return_temp_files"`
	OptimiseOutputImages bool   `toml:"optimise_output_images"`
	OutputQuality        int    `toml:"output_quality"`
	RandomiseSeeds       bool   `toml:"randomise_seeds"`
	DefaultWorkflow      string `toml:"default_workflow"`
}

// Outputs configures the output walk.
type Outputs struct {
	Exclude []string `toml:"exclude"`
}

// API configures the HTTP prediction endpoint.
type API struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates every knob of the adapter.
//
// Configuration sections:
//   - Paths: scratch directories, ComfyUI tree, checkpoint source, lock file
//   - Server: ComfyUI address and launch command
//   - Prediction: request defaults
//   - Outputs: output walk exclusions
//   - API: HTTP prediction endpoint
//   - Logging: log format, level and optional file
type Config struct {
	Paths      Paths      `toml:"paths"`
	Server     Server     `toml:"server"`
	Prediction Prediction `toml:"prediction"`
	Outputs    Outputs    `toml:"outputs"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. It returns the
// config, the resolved path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// StartupTimeout returns the server readiness deadline as a duration.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Server.StartupTimeout) * time.Second
}

// ServerURL returns the HTTP base URL of the ComfyUI server.
func (c *Config) ServerURL() string {
	return "http://" + c.Server.Address
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
