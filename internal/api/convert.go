package api

import (
	"github.com/dustin/go-humanize"

	"cogcomfy/internal/predictor"
)

// ToRequest overlays the wire input on defaults.
func ToRequest(in PredictionInput, defaults predictor.Request) predictor.Request {
	req := defaults
	req.WorkflowJSON = in.WorkflowJSON
	req.InputFile = in.InputFile
	if in.ReturnTempFiles != nil {
		req.ReturnTempFiles = *in.ReturnTempFiles
	}
	if in.OptimiseOutputImages != nil {
		req.OptimiseOutputImages = *in.OptimiseOutputImages
	}
	if in.OptimiseOutputImagesQuality != nil {
		req.OutputQuality = *in.OptimiseOutputImagesQuality
	}
	if in.RandomiseSeeds != nil {
		req.RandomiseSeeds = *in.RandomiseSeeds
	}
	return req
}

// FromResult converts a successful prediction.
func FromResult(result predictor.Result) PredictionResponse {
	output := result.Files
	if output == nil {
		output = []string{}
	}
	return PredictionResponse{
		ID:     result.ID,
		Status: StatusSucceeded,
		Output: output,
		Metrics: &PredictionMetrics{
			PredictTime:  result.Duration.Seconds(),
			SeedsChanged: result.SeedsChanged,
			Downloads:    result.Downloads,
		},
	}
}

// FromStatus converts predictor status for transport.
func FromStatus(status predictor.Status) StatusResponse {
	resp := StatusResponse{
		Ready:         status.Ready,
		ServerAddress: status.ServerAddress,
		ServerRunning: status.ServerRunning,
		LockFile:      status.LockFile,
		Completed:     status.Completed,
		Failed:        status.Failed,
		LastError:     status.LastError,
		Relocation: RelocationSummary{
			Moved:   len(status.Relocation.Moved),
			Skipped: len(status.Relocation.Skipped),
		},
		Dirs: make([]DirUsage, 0, len(status.Dirs)),
	}
	for _, failure := range status.Relocation.Errors {
		resp.Relocation.Errors = append(resp.Relocation.Errors, failure.Error())
	}
	for _, dir := range status.Dirs {
		resp.Dirs = append(resp.Dirs, DirUsage{
			Name:  dir.Name,
			Path:  dir.Path,
			Files: dir.Files,
			Size:  humanize.Bytes(uint64(max(dir.Size, 0))),
			Found: dir.Found,
		})
	}
	return resp
}
