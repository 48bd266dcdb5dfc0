package testsupport

import (
	"archive/tar"
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// WriteZip creates a zip archive at path. Keys ending in "/" become directory
// entries; other keys become files holding the mapped content.
func WriteZip(t testing.TB, path string, entries map[string][]byte) {
	t.Helper()
	file := createArchive(t, path)
	defer file.Close()

	zw := zip.NewWriter(file)
	for _, name := range sortedKeys(entries) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if strings.HasSuffix(name, "/") {
			continue
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

// WriteTar creates a tar archive at path using the same conventions as WriteZip.
func WriteTar(t testing.TB, path string, entries map[string][]byte) {
	t.Helper()
	file := createArchive(t, path)
	defer file.Close()

	tw := tar.NewWriter(file)
	for _, name := range sortedKeys(entries) {
		header := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(entries[name])), Typeflag: tar.TypeReg}
		if strings.HasSuffix(name, "/") {
			header = &tar.Header{Name: name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := tw.Write(entries[name]); err != nil {
				t.Fatalf("tar write %s: %v", name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
}

func createArchive(t testing.TB, path string) *os.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return file
}

func sortedKeys(entries map[string][]byte) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
