package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cogcomfy/internal/fileutil"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
)

// InputKind is the closed set of uploads the stager understands.
type InputKind int

const (
	KindUnsupported InputKind = iota
	KindTar
	KindZip
	KindImage
)

func (k InputKind) String() string {
	switch k {
	case KindTar:
		return "tar"
	case KindZip:
		return "zip"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

var inputKinds = map[string]InputKind{
	".tar":  KindTar,
	".zip":  KindZip,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
}

// ClassifyInput maps a path to its input kind using the lower-cased extension.
func ClassifyInput(path string) (InputKind, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := inputKinds[ext]; ok {
		return kind, ext
	}
	return KindUnsupported, ext
}

// ValidateInput returns an ErrUnsupportedInput error naming the extension when
// path cannot be staged. It does not touch the filesystem.
func ValidateInput(path string) error {
	kind, ext := ClassifyInput(path)
	if kind != KindUnsupported {
		return nil
	}
	if ext == "" {
		ext = "(no extension)"
	}
	return services.Wrap(services.ErrUnsupportedInput, "stage", "", "unsupported file type: "+ext, nil)
}

// Stager places uploaded files into the input scratch directory.
type Stager struct {
	dir     string
	exclude func(name string) bool
	logger  *slog.Logger
}

// NewStager returns a stager writing into inputDir. exclude reports archive
// path components to drop during extraction and may be nil.
func NewStager(inputDir string, exclude func(string) bool, logger *slog.Logger) *Stager {
	if exclude == nil {
		exclude = func(string) bool { return false }
	}
	return &Stager{dir: inputDir, exclude: exclude, logger: logging.NewComponentLogger(logger, "staging")}
}

// Stage dispatches on the input kind: archives are extracted, images are
// copied as input<ext>, anything else fails without modifying the directory.
func (s *Stager) Stage(ctx context.Context, inputFile string) error {
	if err := ValidateInput(inputFile); err != nil {
		return err
	}
	kind, ext := ClassifyInput(inputFile)
	if _, err := os.Stat(inputFile); err != nil {
		return services.Wrap(services.ErrValidation, "stage", "open input", inputFile, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}

	logger := logging.WithContext(ctx, s.logger)
	logger.Info("staging input",
		logging.String("file", filepath.Base(inputFile)),
		logging.String("kind", kind.String()),
		logging.String("dir", s.dir),
	)

	var err error
	switch kind {
	case KindTar:
		err = extractTar(inputFile, s.dir, s.exclude, logger)
	case KindZip:
		err = extractZip(inputFile, s.dir, s.exclude, logger)
	case KindImage:
		err = fileutil.CopyFile(inputFile, filepath.Join(s.dir, "input"+ext))
	}
	if err != nil {
		return services.Wrap(services.ErrValidation, "stage", "extract "+kind.String(), filepath.Base(inputFile), err)
	}
	return nil
}
