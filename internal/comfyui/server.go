package comfyui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"cogcomfy/internal/config"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
)

const stopGracePeriod = 10 * time.Second

// Server manages the ComfyUI child process.
type Server struct {
	python     string
	mainScript string
	dir        string
	address    string
	extraArgs  []string
	launch     bool
	logger     *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewServer builds a server manager from the [server] and [paths] config.
func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		python:     cfg.Server.Python,
		mainScript: cfg.Server.MainScript,
		dir:        cfg.Paths.ComfyUIDir,
		address:    cfg.Server.Address,
		extraArgs:  append([]string(nil), cfg.Server.ExtraArgs...),
		launch:     cfg.Server.Launch,
		logger:     logging.NewComponentLogger(logger, "comfyui-server"),
	}
}

// Args returns the command line used to launch the server.
func (s *Server) Args(outputDir, inputDir string) ([]string, error) {
	host, port, err := net.SplitHostPort(s.address)
	if err != nil {
		return nil, fmt.Errorf("parse server address %q: %w", s.address, err)
	}
	args := []string{
		s.mainScript,
		"--listen", host,
		"--port", port,
		"--output-directory", outputDir,
		"--input-directory", inputDir,
		"--disable-metadata",
	}
	return append(args, s.extraArgs...), nil
}

// Start launches the server in its own process group. It returns once the
// process has started; use Client.WaitReady to wait for the HTTP endpoint.
// When launching is disabled in config Start only logs.
func (s *Server) Start(ctx context.Context, outputDir, inputDir string) error {
	logger := logging.WithContext(ctx, s.logger)
	if !s.launch {
		logger.Info("server launch disabled; expecting an external ComfyUI", logging.String("address", s.address))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("comfyui server already started")
	}

	script := s.mainScript
	if !filepath.IsAbs(script) {
		script = filepath.Join(s.dir, script)
	}
	if _, err := os.Stat(script); err != nil {
		return services.Wrap(services.ErrConfiguration, "setup", "locate main script", script, err)
	}

	args, err := s.Args(outputDir, inputDir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "setup", "build command", "", err)
	}
	cmd := exec.Command(s.python, args...) //nolint:gosec
	cmd.Dir = s.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "setup", "start server", s.python, err)
	}

	logger.Info("comfyui server started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("address", s.address),
		logging.String("dir", s.dir),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.forward(&wg, stdout, "stdout")
	go s.forward(&wg, stderr, "stderr")

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		s.mu.Lock()
		s.err = waitErr
		s.mu.Unlock()
		if waitErr != nil {
			s.logger.Warn("comfyui server exited", logging.Error(waitErr))
		} else {
			s.logger.Info("comfyui server exited")
		}
		close(done)
	}()
	return nil
}

func (s *Server) forward(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Info(scanner.Text(), logging.String("stream", stream))
	}
}

// Running reports whether the child process is alive.
func (s *Server) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Exited is closed when the child process exits. It is nil before Start.
func (s *Server) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ExitErr returns the error the child process exited with, if any.
func (s *Server) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop terminates the server's process group, escalating to SIGKILL after a
// grace period.
func (s *Server) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	pgid := cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate comfyui server: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(stopGracePeriod):
	}
	s.logger.Warn("comfyui server ignored SIGTERM; killing process group", logging.Int("pid", pgid))
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill comfyui server: %w", err)
	}
	<-done
	return nil
}
