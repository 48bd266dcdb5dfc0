package services

import "context"

type contextKey string

const (
	predictionIDKey contextKey = "prediction_id"
	stageKey        contextKey = "stage"
)

// WithPredictionID annotates context with the prediction identifier.
func WithPredictionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, predictionIDKey, id)
}

// PredictionIDFromContext extracts the prediction identifier if present.
func PredictionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(predictionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the prediction stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
