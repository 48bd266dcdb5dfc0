package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cogcomfy/internal/api"
	"cogcomfy/internal/config"
	"cogcomfy/internal/predictor"
)

type predictOptions struct {
	workflowPath    string
	workflowJSON    string
	inputFile       string
	returnTempFiles bool
	optimise        bool
	quality         int
	randomiseSeeds  bool
	jsonOutput      bool
	noProgress      bool
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var opts predictOptions

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a workflow once and list its outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := buildRequest(cmd, cfg, opts)
			if err != nil {
				return err
			}

			p, _, err := ctx.newPredictor()
			if err != nil {
				return err
			}
			defer p.Close()

			runCtx := cmd.Context()

			var reporter *progressReporter
			if !opts.noProgress && !opts.jsonOutput {
				if stderr, ok := cmd.ErrOrStderr().(*os.File); ok && isTerminal(stderr) {
					reporter = newProgressReporter(stderr)
					req.Progress = reporter.handle
				}
			}

			if err := p.Setup(runCtx); err != nil {
				return err
			}
			result, err := p.Predict(runCtx, req)
			if reporter != nil {
				reporter.finish()
			}
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd, api.FromResult(result))
			}
			renderOutputs(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.workflowPath, "workflow", "w", "", "Workflow file in ComfyUI API format")
	flags.StringVar(&opts.workflowJSON, "workflow-json", "", "Workflow JSON text in ComfyUI API format")
	flags.StringVarP(&opts.inputFile, "input", "i", "", "Input image, tar or zip archive")
	flags.BoolVar(&opts.returnTempFiles, "return-temp-files", false, "Also return files from the temp directory")
	flags.BoolVar(&opts.optimise, "optimise-output-images", true, "Convert png/jpg/jpeg outputs to webp")
	flags.IntVar(&opts.quality, "output-quality", 80, "WebP quality (0-100)")
	flags.BoolVar(&opts.randomiseSeeds, "randomise-seeds", true, "Randomise seed, noise_seed and rand_seed inputs")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

// buildRequest starts from the [prediction] defaults and applies only the
// flags the user set explicitly.
func buildRequest(cmd *cobra.Command, cfg *config.Config, opts predictOptions) (predictor.Request, error) {
	req := predictor.RequestDefaults(cfg)
	flags := cmd.Flags()

	workflowPath := strings.TrimSpace(opts.workflowPath)
	if workflowPath != "" && strings.TrimSpace(opts.workflowJSON) != "" {
		return req, errors.New("use either --workflow or --workflow-json, not both")
	}
	if workflowPath != "" {
		expanded, err := config.ExpandPath(workflowPath)
		if err != nil {
			return req, err
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return req, fmt.Errorf("read workflow: %w", err)
		}
		req.WorkflowJSON = string(data)
	} else {
		req.WorkflowJSON = opts.workflowJSON
	}

	if input := strings.TrimSpace(opts.inputFile); input != "" {
		expanded, err := config.ExpandPath(input)
		if err != nil {
			return req, err
		}
		req.InputFile = expanded
	}
	if flags.Changed("return-temp-files") {
		req.ReturnTempFiles = opts.returnTempFiles
	}
	if flags.Changed("optimise-output-images") {
		req.OptimiseOutputImages = opts.optimise
	}
	if flags.Changed("output-quality") {
		req.OutputQuality = opts.quality
	}
	if flags.Changed("randomise-seeds") {
		req.RandomiseSeeds = opts.randomiseSeeds
	}
	return req, nil
}

func renderOutputs(out io.Writer, result predictor.Result) {
	if len(result.Files) == 0 {
		fmt.Fprintln(out, "Workflow produced no outputs")
	} else {
		rows := make([][]string, 0, len(result.Files))
		var total uint64
		for _, path := range result.Files {
			size := "-"
			if info, err := os.Stat(path); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
				total += uint64(info.Size())
			}
			rows = append(rows, []string{filepath.Base(path), size, path})
		}
		footer := []string{fmt.Sprintf("%d file(s)", len(rows)), humanize.Bytes(total), ""}
		fmt.Fprintln(out, tableSpec{
			headers:    []string{"File", "Size", "Path"},
			rows:       rows,
			footer:     footer,
			rightAlign: []int{1},
		}.render())
	}
	fmt.Fprintf(out, "Prediction %s finished in %s (seeds randomised: %d, downloads: %d)\n",
		result.ID, result.Duration.Round(1e6), result.SeedsChanged, result.Downloads)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
