package checkpoints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cogcomfy/internal/fileutil"
	"cogcomfy/internal/logging"
)

const (
	checkpointExt   = ".safetensors"
	upscaleDir      = "upscale_models"
	briaModelFile   = "BRIA-model.pth"
	briaModelTarget = "custom_nodes/ComfyUI-BRIA_AI-RMBG/RMBG-1.4/model.pth"
)

// Move is a single planned relocation.
type Move struct {
	Source string
	Target string
}

// Failure pairs a move with the error that stopped it.
type Failure struct {
	Move
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", f.Source, f.Target, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result summarises a relocation run.
type Result struct {
	Moved   []Move
	Skipped []Move
	Errors  []Failure
}

// Err joins the collected failures, or returns nil when there were none.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, failure := range r.Errors {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

// Plan lists the moves Relocate would attempt for sourceRoot. Missing source
// locations contribute nothing.
func Plan(sourceRoot, destRoot string) ([]Move, error) {
	var moves []Move

	entries, err := os.ReadDir(sourceRoot)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), checkpointExt) {
			continue
		}
		moves = append(moves, Move{
			Source: filepath.Join(sourceRoot, entry.Name()),
			Target: filepath.Join(destRoot, "models", "checkpoints", entry.Name()),
		})
	}

	upscale, err := os.ReadDir(filepath.Join(sourceRoot, upscaleDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read upscale model directory: %w", err)
	}
	for _, entry := range upscale {
		moves = append(moves, Move{
			Source: filepath.Join(sourceRoot, upscaleDir, entry.Name()),
			Target: filepath.Join(destRoot, "models", upscaleDir, entry.Name()),
		})
	}

	moves = append(moves, Move{
		Source: filepath.Join(sourceRoot, briaModelFile),
		Target: filepath.Join(destRoot, filepath.FromSlash(briaModelTarget)),
	})

	sort.SliceStable(moves, func(i, j int) bool { return moves[i].Source < moves[j].Source })
	return moves, nil
}

// Relocate moves checkpoints, upscale models and the background-removal model
// from sourceRoot into the ComfyUI tree at destRoot. It never returns an
// error; inspect Result.Errors for failures.
func Relocate(ctx context.Context, sourceRoot, destRoot string, logger *slog.Logger) Result {
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "checkpoints"))
	var result Result

	moves, err := Plan(sourceRoot, destRoot)
	if err != nil {
		result.Errors = append(result.Errors, Failure{Move: Move{Source: sourceRoot, Target: destRoot}, Err: err})
		logging.WarnWithContext(logger, "checkpoint scan failed",
			"checkpoint_scan",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the checkpoints directory"),
			logging.String(logging.FieldImpact, "models may be missing from the server"),
		)
		return result
	}

	for _, move := range moves {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, Failure{Move: move, Err: ctx.Err()})
			break
		}
		moved, err := relocateOne(move)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, Failure{Move: move, Err: err})
			logging.WarnWithContext(logger, "checkpoint move failed",
				"checkpoint_move",
				logging.String("source", move.Source),
				logging.String("target", move.Target),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space and permissions under the ComfyUI directory"),
				logging.String(logging.FieldImpact, "workflows using this model will fail"),
			)
		case moved:
			result.Moved = append(result.Moved, move)
			logger.Info("moved model", logging.String("source", move.Source), logging.String("target", move.Target))
		default:
			result.Skipped = append(result.Skipped, move)
			logger.Debug("model already migrated", logging.String("target", move.Target))
		}
	}

	logger.Info("checkpoint relocation complete",
		logging.Int("moved", len(result.Moved)),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int("failed", len(result.Errors)),
	)
	return result
}

// relocateOne reports moved=false without error when the source is gone or
// the target already exists.
func relocateOne(move Move) (bool, error) {
	present, err := fileutil.Exists(move.Source)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	exists, err := fileutil.Exists(move.Target)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := fileutil.MoveFile(move.Source, move.Target); err != nil {
		return false, err
	}
	return true, nil
}
