package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
	"cogcomfy/internal/workflow"
)

func TestLocaliseURLInputsDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("image:" + r.URL.Path))
	}))
	defer srv.Close()

	text := `{
	  "1": {"inputs": {"image": "` + srv.URL + `/cat.png", "upload": "image"}},
	  "2": {"inputs": {"image": "` + srv.URL + `/cat.png"}},
	  "3": {"inputs": {"image": "` + srv.URL + `/other/cat.png", "text": "plain"}}
	}`
	doc, err := workflow.Load(text)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(workflow.URLInputs(doc)); got != 3 {
		t.Fatalf("expected 3 url inputs, got %d", got)
	}

	dir := t.TempDir()
	count, err := workflow.LocaliseURLInputs(context.Background(), doc, dir, srv.Client(), logging.NewNop())
	if err != nil {
		t.Fatalf("LocaliseURLInputs: %v", err)
	}
	if count != 2 || hits.Load() != 2 {
		t.Fatalf("expected 2 downloads, got count=%d hits=%d", count, hits.Load())
	}

	inputName := func(node string) string {
		raw, _ := doc.Input(node, "image")
		var name string
		_ = json.Unmarshal(raw, &name)
		return name
	}
	if inputName("1") != "cat.png" || inputName("2") != "cat.png" {
		t.Fatalf("unexpected rewritten names %q %q", inputName("1"), inputName("2"))
	}
	if inputName("3") != "1_cat.png" {
		t.Fatalf("expected collision to be renamed, got %q", inputName("3"))
	}
	data, err := os.ReadFile(filepath.Join(dir, "1_cat.png"))
	if err != nil || string(data) != "image:/other/cat.png" {
		t.Fatalf("unexpected downloaded content %q (err=%v)", data, err)
	}
	if len(workflow.URLInputs(doc)) != 0 {
		t.Fatal("expected no url inputs after localisation")
	}
}

func TestLocaliseURLInputsFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	doc, err := workflow.Load(`{"1":{"inputs":{"image":"` + srv.URL + `/missing.png"}}}`)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	_, err = workflow.LocaliseURLInputs(context.Background(), doc, dir, srv.Client(), logging.NewNop())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "missing.png")); !os.IsNotExist(statErr) {
		t.Fatal("partial download left behind")
	}
}

func TestURLInputsIgnoresNonURLStrings(t *testing.T) {
	doc, err := workflow.Load(`{"1":{"inputs":{"text":"see https://example.com","path":"ftp://x/y","n":3}}}`)
	if err != nil {
		t.Fatal(err)
	}
	if got := workflow.URLInputs(doc); len(got) != 0 {
		t.Fatalf("unexpected url inputs %+v", got)
	}
}
