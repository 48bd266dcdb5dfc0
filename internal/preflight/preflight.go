package preflight

import (
	"context"
	"fmt"

	"cogcomfy/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Launch-only checks are skipped when the server runs elsewhere.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckCreatableDirectory("Input directory", cfg.Paths.InputDir),
		CheckCreatableDirectory("Output directory", cfg.Paths.OutputDir),
		CheckCreatableDirectory("Temp directory", cfg.Paths.TempDir),
		CheckCreatableDirectory("Lock file directory", parentDir(cfg.Paths.LockFile)),
	}

	if cfg.Server.Launch {
		results = append(results, CheckDirectoryAccess("ComfyUI directory", cfg.Paths.ComfyUIDir))
		results = append(results, CheckMainScript(cfg))
		for _, status := range CheckSystemDeps(ctx, cfg) {
			result := Result{Name: status.Name, Passed: status.Available, Detail: status.Path}
			if status.Version != "" {
				result.Detail = fmt.Sprintf("%s (%s)", status.Path, status.Version)
			}
			if status.Detail != "" {
				result.Detail = status.Detail
			}
			results = append(results, result)
		}
	}

	results = append(results, CheckComfyUI(ctx, cfg.Server.Address))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
