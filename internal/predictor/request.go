package predictor

import (
	"fmt"
	"strings"
	"time"

	"cogcomfy/internal/comfyui"
	"cogcomfy/internal/config"
	"cogcomfy/internal/services"
	"cogcomfy/internal/staging"
)

// Request holds the inputs of a single prediction.
type Request struct {
	WorkflowJSON         string
	InputFile            string
	ReturnTempFiles      bool
	OptimiseOutputImages bool
	OutputQuality        int
	RandomiseSeeds       bool

	// Progress, when set, receives execution events while the workflow runs.
	Progress comfyui.ProgressFunc
}

// DefaultRequest returns a request with the documented flag defaults.
func DefaultRequest() Request {
	return Request{
		ReturnTempFiles:      false,
		OptimiseOutputImages: true,
		OutputQuality:        80,
		RandomiseSeeds:       true,
	}
}

// RequestDefaults returns a request seeded from the [prediction] config.
func RequestDefaults(cfg *config.Config) Request {
	if cfg == nil {
		return DefaultRequest()
	}
	return Request{
		ReturnTempFiles:      cfg.Prediction.ReturnTempFiles,
		OptimiseOutputImages: cfg.Prediction.OptimiseOutputImages,
		OutputQuality:        cfg.Prediction.OutputQuality,
		RandomiseSeeds:       cfg.Prediction.RandomiseSeeds,
	}
}

// Validate checks the request without touching the filesystem or server.
func (r Request) Validate() error {
	if r.OutputQuality < 0 || r.OutputQuality > 100 {
		return services.Wrap(services.ErrValidation, "validate", "",
			fmt.Sprintf("optimise_output_images_quality must be between 0 and 100, got %d", r.OutputQuality), nil)
	}
	if strings.TrimSpace(r.InputFile) != "" {
		return staging.ValidateInput(r.InputFile)
	}
	return nil
}

// Result describes a finished prediction.
type Result struct {
	ID           string
	Files        []string
	SeedsChanged int
	Downloads    int
	Duration     time.Duration
}
