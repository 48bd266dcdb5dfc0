package testsupport

import (
	"path/filepath"
	"testing"

	"cogcomfy/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose every path lives under a fresh temp
// directory, with server launching disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "inputs")
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.ComfyUIDir = filepath.Join(base, "ComfyUI")
	cfgVal.Paths.TempDir = filepath.Join(base, "ComfyUI", "temp")
	cfgVal.Paths.CheckpointsDir = filepath.Join(base, "checkpoints")
	cfgVal.Paths.LockFile = filepath.Join(base, "cogcomfy.lock")
	cfgVal.Server.Launch = false
	cfgVal.Server.StartupTimeout = 5
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Logging.Format = "console"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithServerAddress points the config at a (usually fake) ComfyUI server.
func WithServerAddress(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.Address = addr
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
