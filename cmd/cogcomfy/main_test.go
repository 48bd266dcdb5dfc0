package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cogcomfy/internal/api"
	"cogcomfy/internal/config"
	"cogcomfy/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeComfyUI
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	fake := testsupport.NewFakeComfyUI(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerAddress(fake.Address()))
	cfg.Logging.Level = "error"

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, fake: fake, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "cogcomfy.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config already exists")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, env.fake.Address()) {
		t.Fatalf("expected server address in config show, got %q", out)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server]\naddress = \"no-port\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, path); err == nil {
		t.Fatal("expected invalid address to fail")
	}
}

func TestCheckCommandReportsServer(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ComfyUI server") || !strings.Contains(out, "OK") {
		t.Fatalf("unexpected check output %q", out)
	}
}

func TestPredictCommandListsOutputs(t *testing.T) {
	env := setupCLITestEnv(t)
	png := testsupport.PNGBytes(t)
	outputDir := env.cfg.Paths.OutputDir
	env.fake.SetOnPrompt(func(json.RawMessage) error {
		return os.WriteFile(filepath.Join(outputDir, "ComfyUI_00001_.png"), png, 0o644)
	})

	out, _, err := runCLI(t, []string{"predict", "--optimise-output-images=false", "--randomise-seeds=false"}, env.configPath)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !strings.Contains(out, "ComfyUI_00001_.png") {
		t.Fatalf("expected output listed, got %q", out)
	}
	if !strings.Contains(out, "seeds randomised: 0") {
		t.Fatalf("expected no randomised seeds, got %q", out)
	}
	if len(env.fake.Prompts()) != 1 {
		t.Fatalf("expected one prompt, got %d", len(env.fake.Prompts()))
	}
}

func TestPredictCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	png := testsupport.PNGBytes(t)
	outputDir := env.cfg.Paths.OutputDir
	env.fake.SetOnPrompt(func(json.RawMessage) error {
		return os.WriteFile(filepath.Join(outputDir, "image.png"), png, 0o644)
	})

	workflowPath := filepath.Join(t.TempDir(), "workflow.json")
	workflowText := `{"1":{"class_type":"KSampler","inputs":{"seed":1}},"2":{"class_type":"SaveImage","inputs":{"images":["1",0]}}}`
	if err := os.WriteFile(workflowPath, []byte(workflowText), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"predict", "--workflow", workflowPath, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("predict --json: %v", err)
	}
	var resp api.PredictionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, out)
	}
	if resp.Status != "succeeded" || len(resp.Output) != 1 || filepath.Ext(resp.Output[0]) != ".webp" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPredictCommandRejectsConflictingWorkflowFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"predict", "--workflow", "a.json", "--workflow-json", "{}"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "either --workflow or --workflow-json") {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if env.fake.Requests() != 0 {
		t.Fatalf("expected no server traffic, got %d requests", env.fake.Requests())
	}
}

func TestPredictCommandRejectsUnsupportedInput(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(t.TempDir(), "layers.psd")
	if err := os.WriteFile(input, []byte("psd"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCLI(t, []string{"predict", "--input", input}, env.configPath); err == nil {
		t.Fatal("expected unsupported input error")
	}
	if len(env.fake.Prompts()) != 0 {
		t.Fatal("expected no prompt to be queued")
	}
}

func TestConfigInitStdout(t *testing.T) {
	out, _, err := runCLI(t, []string{"config", "init", "--stdout"}, "")
	if err != nil {
		t.Fatalf("config init --stdout: %v", err)
	}
	if !strings.Contains(out, "[server]") || !strings.Contains(out, "[prediction]") {
		t.Fatalf("expected sample config, got %q", out)
	}
}
