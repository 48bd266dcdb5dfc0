package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"cogcomfy/internal/checkpoints"
	"cogcomfy/internal/comfyui"
	"cogcomfy/internal/config"
	"cogcomfy/internal/fileutil"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/outputs"
	"cogcomfy/internal/services"
	"cogcomfy/internal/staging"
	"cogcomfy/internal/workflow"
)

// Option customises a Predictor.
type Option func(*Predictor)

// WithClientOptions forwards options to the ComfyUI client.
func WithClientOptions(opts ...comfyui.Option) Option {
	return func(p *Predictor) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// WithDownloadClient sets the HTTP client used for URL workflow inputs.
func WithDownloadClient(client workflow.HTTPDoer) Option {
	return func(p *Predictor) {
		p.downloads = client
	}
}

// Predictor coordinates predictions against a single ComfyUI server.
type Predictor struct {
	cfg        *config.Config
	logger     *slog.Logger
	dirs       staging.Dirs
	server     *comfyui.Server
	client     *comfyui.Client
	stager     *staging.Stager
	collector  *outputs.Collector
	downloads  workflow.HTTPDoer
	clientOpts []comfyui.Option
	lock       *flock.Flock

	// run serialises Setup, Predict and Close; mu guards the fields below
	// so Status stays answerable while either is in progress.
	run       sync.Mutex
	mu        sync.Mutex
	ready     bool
	completed int
	failed    int
	lastErr   error
	relocated checkpoints.Result
}

// Status reports predictor runtime information.
type Status struct {
	Ready         bool
	ServerAddress string
	ServerRunning bool
	LockFile      string
	Completed     int
	Failed        int
	LastError     string
	Relocation    checkpoints.Result
	Dirs          []staging.DirInfo
}

// New builds a predictor from cfg. Nothing is started until Setup.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Predictor, error) {
	if cfg == nil {
		return nil, errors.New("predictor requires configuration")
	}
	logger = logging.NewComponentLogger(logger, "predictor")
	p := &Predictor{
		cfg:    cfg,
		logger: logger,
		dirs: staging.Dirs{
			Input:  cfg.Paths.InputDir,
			Output: cfg.Paths.OutputDir,
			Temp:   cfg.Paths.TempDir,
		},
		lock: flock.New(cfg.Paths.LockFile),
	}
	for _, opt := range opts {
		opt(p)
	}

	clientOpts := append([]comfyui.Option{
		comfyui.WithLogger(logger),
		comfyui.WithStartupTimeout(cfg.StartupTimeout()),
	}, p.clientOpts...)
	p.client = comfyui.NewClient(cfg.Server.Address, clientOpts...)
	p.server = comfyui.NewServer(cfg, logger)
	p.stager = staging.NewStager(cfg.Paths.InputDir, fileutil.NameMatcher(cfg.Outputs.Exclude), logger)
	p.collector = outputs.NewCollector(cfg.Outputs.Exclude, logger)
	return p, nil
}

// Setup acquires the instance lock, relocates model files, starts the server
// and waits for it to answer.
func (p *Predictor) Setup(ctx context.Context) error {
	p.run.Lock()
	defer p.run.Unlock()
	if p.isReady() {
		return errors.New("predictor already set up")
	}
	ctx = services.WithStage(ctx, "setup")
	logger := logging.WithContext(ctx, p.logger)

	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "setup", "acquire lock",
			"another cogcomfy instance is using "+p.cfg.Paths.LockFile, nil)
	}

	relocated := checkpoints.Relocate(ctx, p.cfg.Paths.CheckpointsDir, p.cfg.Paths.ComfyUIDir, p.logger)
	p.mu.Lock()
	p.relocated = relocated
	p.mu.Unlock()

	for _, dir := range p.dirs.All() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			p.releaseLock()
			return fmt.Errorf("create scratch directory %s: %w", dir, err)
		}
	}

	if err := p.server.Start(ctx, p.dirs.Output, p.dirs.Input); err != nil {
		p.releaseLock()
		return err
	}
	if err := p.waitReady(ctx); err != nil {
		_ = p.server.Stop()
		p.releaseLock()
		return err
	}

	p.setReady(true)
	logger.Info("predictor ready",
		logging.String(logging.FieldEventType, "setup_complete"),
		logging.String("address", p.client.Address()),
		logging.Int("models_moved", len(relocated.Moved)),
	)
	return nil
}

var errServerExited = errors.New("comfyui server exited during startup")

// waitReady polls the server and gives up as soon as a launched child
// process exits.
func (p *Predictor) waitReady(ctx context.Context) error {
	exited := p.server.Exited()
	if exited == nil {
		return p.client.WaitReady(ctx)
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-exited:
			cancel(errServerExited)
		case <-stop:
		}
	}()

	err := p.client.WaitReady(waitCtx)
	if err != nil && errors.Is(context.Cause(waitCtx), errServerExited) {
		detail := errServerExited.Error()
		if exitErr := p.server.ExitErr(); exitErr != nil {
			return services.Wrap(services.ErrExternalTool, "setup", "wait for server", detail, exitErr)
		}
		return services.Wrap(services.ErrExternalTool, "setup", "wait for server", detail, nil)
	}
	return err
}

// Predict runs one prediction and returns the produced files in order.
func (p *Predictor) Predict(ctx context.Context, req Request) (Result, error) {
	p.run.Lock()
	defer p.run.Unlock()

	result := Result{ID: uuid.NewString()}
	ctx = services.WithPredictionID(ctx, result.ID)
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()

	files, err := p.predict(ctx, req, &result)
	result.Duration = time.Since(started)
	if err != nil {
		p.mu.Lock()
		p.failed++
		p.lastErr = err
		p.mu.Unlock()
		logging.ErrorWithContext(logger, "prediction failed",
			"prediction_failed",
			logging.Error(err),
			logging.Duration("elapsed", result.Duration),
			logging.String(logging.FieldErrorHint, errorHint(err)),
		)
		return result, err
	}
	result.Files = files
	p.mu.Lock()
	p.completed++
	p.lastErr = nil
	p.mu.Unlock()
	logger.Info("prediction succeeded",
		logging.String(logging.FieldEventType, "prediction_complete"),
		logging.Int("outputs", len(files)),
		logging.Duration("elapsed", result.Duration),
	)
	return result, nil
}

func (p *Predictor) predict(ctx context.Context, req Request, result *Result) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	text, err := p.workflowText(req.WorkflowJSON)
	if err != nil {
		return nil, err
	}
	doc, err := p.client.LoadWorkflow(text)
	if err != nil {
		return nil, err
	}
	if !p.isReady() {
		return nil, services.Wrap(services.ErrConfiguration, "validate", "", "predictor is not set up", nil)
	}

	err = p.runStage(ctx, "cleanup", func(ctx context.Context) error {
		if err := p.client.ClearQueue(ctx); err != nil {
			return err
		}
		return p.dirs.Reset()
	})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.InputFile) != "" {
		err = p.runStage(ctx, "stage", func(ctx context.Context) error {
			if err := p.stager.Stage(ctx, req.InputFile); err != nil {
				return err
			}
			_, err := p.collector.Collect(ctx, p.dirs.Input)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	err = p.runStage(ctx, "workflow", func(ctx context.Context) error {
		downloads, err := workflow.LocaliseURLInputs(ctx, doc, p.dirs.Input, p.downloads, p.logger)
		result.Downloads = downloads
		if err != nil {
			return err
		}
		if req.RandomiseSeeds {
			changed, err := p.client.RandomiseSeeds(doc)
			result.SeedsChanged = changed
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.runStage(ctx, "run", func(ctx context.Context) error {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
		return p.client.RunWorkflow(ctx, doc, req.Progress)
	})
	if err != nil {
		return nil, err
	}

	var files []string
	err = p.runStage(ctx, "collect", func(ctx context.Context) error {
		dirs := []string{p.dirs.Output}
		if req.ReturnTempFiles {
			dirs = append(dirs, p.dirs.Temp)
		}
		files, err = p.collector.Collect(ctx, dirs...)
		return err
	})
	if err != nil {
		return nil, err
	}

	if req.OptimiseOutputImages {
		_ = p.runStage(ctx, "optimise", func(ctx context.Context) error {
			files = outputs.NewOptimiser(req.OutputQuality, p.logger).Optimise(ctx, files)
			return nil
		})
	}
	return files, nil
}

// workflowText picks the request workflow, then the configured default file,
// leaving blank text for the bundled example.
func (p *Predictor) workflowText(text string) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	path := strings.TrimSpace(p.cfg.Prediction.DefaultWorkflow)
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "validate", "read default workflow", path, err)
	}
	return string(data), nil
}

func (p *Predictor) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, stage)
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(ctx); err != nil {
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return nil
}

// Status returns the current predictor status.
func (p *Predictor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := Status{
		Ready:         p.ready,
		ServerAddress: p.client.Address(),
		ServerRunning: p.server.Running(),
		LockFile:      p.cfg.Paths.LockFile,
		Completed:     p.completed,
		Failed:        p.failed,
		Relocation:    p.relocated,
		Dirs:          p.dirs.Usage(),
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	return status
}

// Ping checks that the server still answers.
func (p *Predictor) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close stops the server and releases the instance lock.
func (p *Predictor) Close() error {
	p.run.Lock()
	defer p.run.Unlock()
	var errs []error
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.server.Stop(); err != nil {
		errs = append(errs, err)
	}
	if p.isReady() {
		p.releaseLock()
	}
	p.setReady(false)
	return errors.Join(errs...)
}

func (p *Predictor) isReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Predictor) setReady(ready bool) {
	p.mu.Lock()
	p.ready = ready
	p.mu.Unlock()
}

func (p *Predictor) releaseLock() {
	if err := p.lock.Unlock(); err != nil {
		p.logger.Warn("failed to release predictor lock", logging.Error(err))
	}
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, services.ErrUnsupportedInput):
		return "upload a tar, zip, jpg, jpeg, png or webp file"
	case errors.Is(err, services.ErrMalformedWorkflow):
		return "export the workflow with Save (API format)"
	case errors.Is(err, services.ErrValidation):
		return "check the request inputs"
	case errors.Is(err, services.ErrTimeout):
		return "check that ComfyUI is running and reachable"
	default:
		return "check ComfyUI server logs"
	}
}
