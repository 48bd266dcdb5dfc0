package config

const (
	defaultConfigPath     = "~/.config/cogcomfy/config.toml"
	projectConfigName     = "cogcomfy.toml"
	defaultInputDir       = "/tmp/inputs"
	defaultOutputDir      = "/tmp/outputs"
	defaultComfyUIDir     = "ComfyUI"
	defaultCheckpointsDir = "checkpoints"
	defaultLockFile       = "/tmp/cogcomfy.lock"
	defaultServerAddress  = "127.0.0.1:8188"
	defaultPython         = "python"
	defaultMainScript     = "main.py"
	defaultStartupTimeout = 300
	defaultOutputQuality  = 80
	defaultAPIBind        = "127.0.0.1:5000"
	defaultLogFormat      = "auto"
	defaultLogLevel       = "info"

	// AddressEnv overrides server.address when set.
	AddressEnv = "COGCOMFY_SERVER_ADDRESS"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:       defaultInputDir,
			OutputDir:      defaultOutputDir,
			ComfyUIDir:     defaultComfyUIDir,
			CheckpointsDir: defaultCheckpointsDir,
			LockFile:       defaultLockFile,
		},
		Server: Server{
			Address:        defaultServerAddress,
			Launch:         true,
			Python:         defaultPython,
			MainScript:     defaultMainScript,
			StartupTimeout: defaultStartupTimeout,
		},
		Prediction: Prediction{
			ReturnTempFiles:      false,
			OptimiseOutputImages: true,
			OutputQuality:        defaultOutputQuality,
			RandomiseSeeds:       true,
		},
		Outputs: Outputs{
			Exclude: []string{"__MACOSX"},
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
