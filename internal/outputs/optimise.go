package outputs

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/webp"

	"cogcomfy/internal/logging"
)

var optimisable = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Optimiser re-encodes JPEG and PNG outputs as WebP.
type Optimiser struct {
	quality int
	logger  *slog.Logger
}

// NewOptimiser returns an optimiser encoding at quality (clamped to 0-100).
func NewOptimiser(quality int, logger *slog.Logger) *Optimiser {
	quality = min(max(quality, 0), 100)
	return &Optimiser{quality: quality, logger: logging.NewComponentLogger(logger, "outputs")}
}

// Optimise returns files with every JPEG/PNG entry replaced by a WebP sibling
// (same path, .webp extension, suffixed with the source extension when that
// name is already taken). Other files, and images that fail to decode or
// encode, are returned unchanged.
func (o *Optimiser) Optimise(ctx context.Context, files []string) []string {
	logger := logging.WithContext(ctx, o.logger)
	claimed := make(map[string]bool, len(files))
	for _, file := range files {
		claimed[file] = true
	}
	result := make([]string, 0, len(files))
	for _, file := range files {
		if ctx.Err() != nil || !optimisable[strings.ToLower(filepath.Ext(file))] {
			result = append(result, file)
			continue
		}
		target := webpTarget(file, claimed)
		if filepath.Base(target) != strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))+".webp" {
			logging.WarnWithContext(logger, "webp name already taken; using a distinct name",
				"output_optimise_collision",
				logging.String("file", file),
				logging.String("webp", target),
				logging.String(logging.FieldErrorHint, "give each SaveImage node a distinct filename prefix"),
				logging.String(logging.FieldImpact, "output returned under a suffixed name"),
			)
		}
		claimed[target] = true
		converted, err := o.convert(file, target)
		if err != nil {
			logging.WarnWithContext(logger, "image optimisation failed; returning original",
				"output_optimise",
				logging.String("file", file),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the workflow writes valid images"),
				logging.String(logging.FieldImpact, "original file returned instead of webp"),
			)
			result = append(result, file)
			continue
		}
		logger.Debug("optimised image", logging.String("source", file), logging.String("webp", converted))
		result = append(result, converted)
	}
	return result
}

// webpTarget picks the .webp path for file that no other output claims:
// out.png becomes out.webp, or out_png.webp, out_png_2.webp on collision.
func webpTarget(file string, claimed map[string]bool) string {
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	target := stem + ".webp"
	if !claimed[target] {
		return target
	}
	base := stem + "_" + strings.ToLower(strings.TrimPrefix(ext, "."))
	target = base + ".webp"
	for n := 2; claimed[target]; n++ {
		target = fmt.Sprintf("%s_%d.webp", base, n)
	}
	return target
}

func (o *Optimiser) convert(path, target string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".optimise-*.webp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if err := webp.Encode(tmp, img, webp.Options{Quality: o.quality}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("encode webp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return target, nil
}
