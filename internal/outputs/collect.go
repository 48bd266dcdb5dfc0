package outputs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"cogcomfy/internal/fileutil"
	"cogcomfy/internal/logging"
)

// Collector walks output directories.
type Collector struct {
	exclude func(name string) bool
	logger  *slog.Logger
}

// NewCollector returns a collector skipping entries whose base name matches
// any of the glob patterns.
func NewCollector(patterns []string, logger *slog.Logger) *Collector {
	return &Collector{
		exclude: fileutil.NameMatcher(patterns),
		logger:  logging.NewComponentLogger(logger, "outputs"),
	}
}

// Collect returns every regular file below dirs, depth-first in listing
// order, logging each entry as it goes. Missing directories contribute
// nothing.
func (c *Collector) Collect(ctx context.Context, dirs ...string) ([]string, error) {
	logger := logging.WithContext(ctx, c.logger)
	var files []string
	for _, dir := range dirs {
		logger.Info("listing directory", logging.String("dir", dir))
		found, err := c.walk(logger, dir, "")
		if err != nil {
			return files, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func (c *Collector) walk(logger *slog.Logger, dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if c.exclude(name) {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			logger.Debug("skipping unreadable entry", logging.String("path", path), logging.Error(err))
			continue
		}
		switch {
		case info.Mode().IsRegular():
			logger.Info(prefix+name, logging.Bytes("size", info.Size()))
			files = append(files, path)
		case info.IsDir():
			logger.Info(prefix + name + "/")
			nested, err := c.walk(logger, path, prefix+name+"/")
			if err != nil {
				return files, err
			}
			files = append(files, nested...)
		}
	}
	return files, nil
}
