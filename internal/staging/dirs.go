package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dirs is the set of scratch directories owned by one prediction.
type Dirs struct {
	Input  string
	Output string
	Temp   string
}

// All returns the scratch directories in reset order.
func (d Dirs) All() []string {
	return []string{d.Output, d.Input, d.Temp}
}

func (d Dirs) validate() error {
	for _, dir := range d.All() {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return errors.New("scratch directory path is empty")
		}
		if dir == filepath.Dir(dir) {
			return fmt.Errorf("refusing to reset filesystem root %q", dir)
		}
	}
	return nil
}

// Reset deletes and recreates every scratch directory. Afterwards each
// directory exists and is empty, whether or not it existed before.
func (d Dirs) Reset() error {
	if err := d.validate(); err != nil {
		return err
	}
	for _, dir := range d.All() {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear scratch directory %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scratch directory %s: %w", dir, err)
		}
	}
	return nil
}

// DirInfo summarises the contents of a scratch directory.
type DirInfo struct {
	Name  string
	Path  string
	Files int
	Size  int64
	Found bool
}

// Usage reports how many files and bytes each scratch directory holds.
func (d Dirs) Usage() []DirInfo {
	named := []struct{ name, path string }{
		{"input", d.Input},
		{"output", d.Output},
		{"temp", d.Temp},
	}
	infos := make([]DirInfo, 0, len(named))
	for _, entry := range named {
		info := DirInfo{Name: entry.name, Path: entry.path}
		if stat, err := os.Stat(entry.path); err == nil && stat.IsDir() {
			info.Found = true
			info.Files, info.Size = dirSize(entry.path)
		}
		infos = append(infos, info)
	}
	return infos
}

func dirSize(path string) (int, int64) {
	var files int
	var size int64
	_ = filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // best effort
		}
		if entry.Type().IsRegular() {
			if info, infoErr := entry.Info(); infoErr == nil {
				files++
				size += info.Size()
			}
		}
		return nil
	})
	return files, size
}
