package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"cogcomfy/internal/services"
)

var mediaExtensions = map[string]string{
	"image/png":         ".png",
	"image/jpeg":        ".jpg",
	"image/webp":        ".webp",
	"application/zip":   ".zip",
	"application/x-tar": ".tar",
}

// materialise turns a URL or data URI into a local temporary file. Plain
// paths are returned unchanged with a no-op cleanup.
func materialise(ctx context.Context, client *http.Client, ref string) (string, func(), error) {
	noop := func() {}
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	switch {
	case ref == "":
		return "", noop, nil
	case strings.HasPrefix(lower, "data:"):
		data, ext, err := decodeDataURI(ref)
		if err != nil {
			return "", noop, services.Wrap(services.ErrValidation, "validate", "decode input_file", "", err)
		}
		return writeTemp(bytes.NewReader(data), ext)
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		parsed, err := url.Parse(ref)
		if err != nil {
			return "", noop, services.Wrap(services.ErrValidation, "validate", "parse input_file", ref, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return "", noop, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", noop, services.Wrap(services.ErrValidation, "validate", "download input_file", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			return "", noop, services.Wrap(services.ErrValidation, "validate", "download input_file",
				fmt.Sprintf("%s returned %d", ref, resp.StatusCode), nil)
		}
		ext := path.Ext(parsed.Path)
		if ext == "" {
			ext = mediaExtensions[strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])]
		}
		return writeTemp(resp.Body, ext)
	default:
		return ref, noop, nil
	}
}

func decodeDataURI(ref string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("data URI has no payload")
	}
	parts := strings.Split(header, ";")
	ext := mediaExtensions[strings.ToLower(parts[0])]
	isBase64 := len(parts) > 1 && strings.EqualFold(parts[len(parts)-1], "base64")
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		return []byte(decoded), ext, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	return data, ext, err
}

func writeTemp(r io.Reader, ext string) (string, func(), error) {
	file, err := os.CreateTemp("", "cogcomfy-input-*"+ext)
	if err != nil {
		return "", func() {}, err
	}
	name := file.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return name, cleanup, nil
}
