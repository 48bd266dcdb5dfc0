package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// URLInput is a string node input holding a remote URL.
type URLInput struct {
	NodeID string
	Field  string
	URL    string
}

// URLInputs lists string inputs whose value is an http(s) URL.
func URLInputs(doc *Document) []URLInput {
	var found []URLInput
	for _, id := range doc.NodeIDs() {
		n, ok := doc.decodeNode(id)
		if !ok {
			continue
		}
		names := make([]string, 0, len(n.inputs))
		for name := range n.inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			var value string
			if err := json.Unmarshal(n.inputs[name], &value); err != nil {
				continue
			}
			if isRemoteURL(value) {
				found = append(found, URLInput{NodeID: id, Field: name, URL: value})
			}
		}
	}
	return found
}

// LocaliseURLInputs downloads every URL input into dir and rewrites the input
// to the downloaded file name. Each distinct URL is fetched once. It returns
// the number of files downloaded.
func LocaliseURLInputs(ctx context.Context, doc *Document, dir string, client HTTPDoer, logger *slog.Logger) (int, error) {
	inputs := URLInputs(doc)
	if len(inputs) == 0 {
		return 0, nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create input directory: %w", err)
	}

	names := map[string]string{}
	used := map[string]bool{}
	for _, in := range inputs {
		name, ok := names[in.URL]
		if !ok {
			name = uniqueName(fileNameForURL(in.URL), used)
			size, err := download(ctx, client, in.URL, filepath.Join(dir, name))
			if err != nil {
				return len(names), services.Wrap(services.ErrValidation, "workflow", "download input", in.URL, err)
			}
			names[in.URL] = name
			used[name] = true
			logger.Info("downloaded workflow input",
				logging.String("url", in.URL),
				logging.String("file", name),
				logging.Bytes("size", size),
			)
		}
		n, _ := doc.decodeNode(in.NodeID)
		encoded, err := encodeString(name)
		if err != nil {
			return len(names), err
		}
		n.inputs[in.Field] = encoded
		if err := doc.storeNode(in.NodeID, n); err != nil {
			return len(names), err
		}
	}
	return len(names), nil
}

func download(ctx context.Context, client HTTPDoer, rawURL, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return 0, err
	}
	return written, nil
}

func isRemoteURL(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	parsed, err := url.Parse(strings.TrimSpace(value))
	return err == nil && parsed.Host != ""
}

func fileNameForURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "url_input"
	}
	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		return "url_input"
	}
	base = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, base)
	if strings.HasPrefix(base, ".") {
		base = "url_input" + base
	}
	return base
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%d_%s", i, name)
		if !used[candidate] {
			return candidate
		}
	}
}
