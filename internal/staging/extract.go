package staging

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// entryPath converts an archive entry name into a path below dest. It returns
// ok=false for entries that should be skipped (excluded components, empty
// names) and an error for entries escaping dest.
func entryPath(dest, name string, exclude func(string) bool) (string, bool, error) {
	name = norm.NFC.String(strings.ReplaceAll(name, "\\", "/"))
	cleaned := path.Clean("/" + name)
	if strings.HasPrefix(name, "/") || containsDotDot(name) {
		return "", false, fmt.Errorf("archive entry %q escapes the input directory", name)
	}
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" || rel == "." {
		return "", false, nil
	}
	for _, part := range strings.Split(rel, "/") {
		if exclude(part) {
			return "", false, nil
		}
	}
	return filepath.Join(dest, filepath.FromSlash(rel)), true, nil
}

func containsDotDot(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	perm := mode.Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func extractTar(archivePath, dest string, exclude func(string) bool, logger *slog.Logger) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := tar.NewReader(file)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, ok, err := entryPath(dest, header.Name, exclude)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, reader, header.FileInfo().Mode()); err != nil {
				return fmt.Errorf("write %s: %w", header.Name, err)
			}
		default:
			logger.Debug("skipping non-regular tar entry", slog.String("entry", header.Name))
		}
	}
}

func extractZip(archivePath, dest string, exclude func(string) bool, logger *slog.Logger) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target, ok, err := entryPath(dest, entry.Name, exclude)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := extractZipEntry(entry, target); err != nil {
				return fmt.Errorf("write %s: %w", entry.Name, err)
			}
		default:
			logger.Debug("skipping non-regular zip entry", slog.String("entry", entry.Name))
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeEntry(target, rc, entry.Mode())
}
