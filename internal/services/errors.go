package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedInput  = errors.New("unsupported input type")
	ErrMalformedWorkflow = errors.New("malformed workflow")
	ErrValidation        = errors.New("validation error")
	ErrExternalTool      = errors.New("external server error")
	ErrConfiguration     = errors.New("configuration error")
	ErrTimeout           = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it
// with marker for later classification via errors.Is. The marker should be
// one of the sentinels above; nil defaults to ErrExternalTool.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsInputError reports whether err was caused by caller-supplied input rather
// than by the adapter or the external server.
func IsInputError(err error) bool {
	return errors.Is(err, ErrUnsupportedInput) ||
		errors.Is(err, ErrMalformedWorkflow) ||
		errors.Is(err, ErrValidation)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "prediction failure"
	}
	return strings.Join(parts, ": ")
}
