package api

// PredictionRequest is the body of POST /predictions.
type PredictionRequest struct {
	ID    string          `json:"id,omitempty"`
	Input PredictionInput `json:"input"`
}

// PredictionInput mirrors the predictor inputs. Nil fields take defaults.
type PredictionInput struct {
	WorkflowJSON                string `json:"workflow_json"`
	InputFile                   string `json:"input_file,omitempty"`
	ReturnTempFiles             *bool  `json:"return_temp_files,omitempty"`
	OptimiseOutputImages        *bool  `json:"optimise_output_images,omitempty"`
	OptimiseOutputImagesQuality *int   `json:"optimise_output_images_quality,omitempty"`
	RandomiseSeeds              *bool  `json:"randomise_seeds,omitempty"`
}

// Prediction statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// PredictionResponse reports the outcome of a prediction.
type PredictionResponse struct {
	ID      string             `json:"id"`
	Status  string             `json:"status"`
	Output  []string           `json:"output"`
	Error   string             `json:"error,omitempty"`
	Metrics *PredictionMetrics `json:"metrics,omitempty"`
}

// PredictionMetrics carries timing information.
type PredictionMetrics struct {
	PredictTime  float64 `json:"predict_time"`
	SeedsChanged int     `json:"seeds_changed"`
	Downloads    int     `json:"downloads"`
}

// Health states.
const (
	HealthReady     = "READY"
	HealthStarting  = "STARTING"
	HealthUnhealthy = "UNHEALTHY"
)

// HealthResponse is the body of GET /health-check.
type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DirUsage reports a scratch directory's contents.
type DirUsage struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Files int    `json:"files"`
	Size  string `json:"size"`
	Found bool   `json:"found"`
}

// RelocationSummary reports what setup moved into the ComfyUI tree.
type RelocationSummary struct {
	Moved   int      `json:"moved"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Ready         bool              `json:"ready"`
	ServerAddress string            `json:"server_address"`
	ServerRunning bool              `json:"server_running"`
	LockFile      string            `json:"lock_file"`
	Completed     int               `json:"completed"`
	Failed        int               `json:"failed"`
	LastError     string            `json:"last_error,omitempty"`
	Relocation    RelocationSummary `json:"relocation"`
	Dirs          []DirUsage        `json:"dirs"`
}
