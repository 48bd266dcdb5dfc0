package comfyui_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"cogcomfy/internal/comfyui"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/testsupport"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerArgs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Address = "0.0.0.0:8188"
	cfg.Server.ExtraArgs = []string{"--lowvram"}
	server := comfyui.NewServer(cfg, logging.NewNop())

	args, err := server.Args("/tmp/outputs", "/tmp/inputs")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"main.py", "--listen", "0.0.0.0", "--port", "8188",
		"--output-directory", "/tmp/outputs", "--input-directory", "/tmp/inputs",
		"--disable-metadata", "--lowvram",
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", args, want)
	}
}

func TestServerStartDisabledIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	server := comfyui.NewServer(cfg, logging.NewNop())
	if err := server.Start(context.Background(), cfg.Paths.OutputDir, cfg.Paths.InputDir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if server.Running() {
		t.Fatal("no process should be running")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestServerStartMissingScript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Launch = true
	server := comfyui.NewServer(cfg, logging.NewNop())
	if err := server.Start(context.Background(), cfg.Paths.OutputDir, cfg.Paths.InputDir); err == nil {
		t.Fatal("expected error for missing main script")
	}
}

func TestServerStartAndStopProcessGroup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Launch = true
	cfg.Server.Python = "/bin/sh"
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.ComfyUIDir, "main.py"), "echo \"launched $*\"\nsleep 30 &\nwait\n")

	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	server := comfyui.NewServer(cfg, logger)
	if err := server.Start(context.Background(), cfg.Paths.OutputDir, cfg.Paths.InputDir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !server.Running() {
		t.Fatal("expected server to be running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "launched") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if server.Running() {
		t.Fatal("expected server to be stopped")
	}
	if !strings.Contains(buf.String(), "--disable-metadata") {
		t.Fatalf("expected launch line in logs, got %s", buf.String())
	}
}
