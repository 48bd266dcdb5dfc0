package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cogcomfy/internal/api"
	"cogcomfy/internal/checkpoints"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/predictor"
	"cogcomfy/internal/services"
	"cogcomfy/internal/staging"
	"cogcomfy/internal/testsupport"
)

type stubPredictor struct {
	status   predictor.Status
	starting bool
	pingErr  error
	err      error
	files    []string

	got       predictor.Request
	inputData []byte
}

func (s *stubPredictor) Predict(_ context.Context, req predictor.Request) (predictor.Result, error) {
	s.got = req
	if req.InputFile != "" {
		s.inputData, _ = os.ReadFile(req.InputFile)
	}
	if s.err != nil {
		return predictor.Result{ID: "pred-1"}, s.err
	}
	return predictor.Result{ID: "pred-1", Files: s.files, Duration: 1500 * time.Millisecond, SeedsChanged: 1}, nil
}

func (s *stubPredictor) Status() predictor.Status {
	status := s.status
	status.Ready = !s.starting
	return status
}

func (s *stubPredictor) Ping(context.Context) error { return s.pingErr }

func newServer(t *testing.T, stub *stubPredictor) http.Handler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Prediction.OutputQuality = 65
	srv, err := api.NewServer(cfg, stub, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return srv.Handler()
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, api.PredictionResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predictions", bytes.NewBufferString(body)))
	var resp api.PredictionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestPredictionSucceeds(t *testing.T) {
	stub := &stubPredictor{files: []string{"/tmp/outputs/a.webp"}}
	rec, resp := post(t, newServer(t, stub), `{"input":{"workflow_json":"{}","randomise_seeds":false}}`)

	if rec.Code != http.StatusOK || resp.Status != api.StatusSucceeded {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
	if len(resp.Output) != 1 || resp.Output[0] != "/tmp/outputs/a.webp" {
		t.Fatalf("unexpected output %v", resp.Output)
	}
	if resp.Metrics == nil || resp.Metrics.PredictTime != 1.5 {
		t.Fatalf("unexpected metrics %+v", resp.Metrics)
	}
	if stub.got.RandomiseSeeds || !stub.got.OptimiseOutputImages || stub.got.OutputQuality != 65 || stub.got.WorkflowJSON != "{}" {
		t.Fatalf("defaults not applied correctly: %+v", stub.got)
	}
}

func TestPredictionInputErrorIs422(t *testing.T) {
	stub := &stubPredictor{err: services.Wrap(services.ErrUnsupportedInput, "stage", "", "unsupported file type: .psd", nil)}
	rec, resp := post(t, newServer(t, stub), `{"input":{"input_file":"/tmp/layers.psd"}}`)
	if rec.Code != http.StatusUnprocessableEntity || resp.Status != api.StatusFailed {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
	if resp.Error == "" || resp.ID != "pred-1" {
		t.Fatalf("expected error and id, got %+v", resp)
	}
}

func TestPredictionServerErrorIs500(t *testing.T) {
	stub := &stubPredictor{err: services.Wrap(services.ErrExternalTool, "run", "execute workflow", "boom", nil)}
	rec, resp := post(t, newServer(t, stub), `{"input":{}}`)
	if rec.Code != http.StatusInternalServerError || resp.Status != api.StatusFailed {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}

func TestPredictionRejectsUnknownFields(t *testing.T) {
	rec, resp := post(t, newServer(t, &stubPredictor{}), `{"input":{"prompt":"cat"}}`)
	if rec.Code != http.StatusUnprocessableEntity || resp.Status != api.StatusFailed {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}

func TestPredictionDecodesDataURI(t *testing.T) {
	stub := &stubPredictor{}
	png := testsupport.PNGBytes(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	rec, _ := post(t, newServer(t, stub), `{"input":{"input_file":"`+uri+`"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if filepath.Ext(stub.got.InputFile) != ".png" || !bytes.Equal(stub.inputData, png) {
		t.Fatalf("input file not materialised: %s", stub.got.InputFile)
	}
	if _, err := os.Stat(stub.got.InputFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temporary input not removed")
	}
}

func TestPredictionDownloadsInputURL(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteZip(t, filepath.Join(dir, "bundle.zip"), map[string][]byte{"a.txt": []byte("a")})
	files := testsupport.NewFileServer(t, dir)

	stub := &stubPredictor{}
	rec, _ := post(t, newServer(t, stub), `{"input":{"input_file":"`+files.URL+`/bundle.zip"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if filepath.Ext(stub.got.InputFile) != ".zip" || len(stub.inputData) == 0 {
		t.Fatalf("input not downloaded: %s", stub.got.InputFile)
	}
}

func TestPredictionWhileStartingIs503(t *testing.T) {
	stub := &stubPredictor{starting: true}
	rec, resp := post(t, newServer(t, stub), `{"id":"early","input":{"workflow_json":"{}"}}`)

	if rec.Code != http.StatusServiceUnavailable || resp.Status != api.StatusFailed || resp.ID != "early" {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
	if stub.got.WorkflowJSON != "" {
		t.Fatalf("predictor called before ready: %+v", stub.got)
	}
}

func TestHealthCheck(t *testing.T) {
	cases := []struct {
		name string
		stub *stubPredictor
		want string
	}{
		{"starting", &stubPredictor{starting: true}, api.HealthStarting},
		{"ready", &stubPredictor{status: predictor.Status{Ready: true}}, api.HealthReady},
		{"unhealthy", &stubPredictor{status: predictor.Status{Ready: true}, pingErr: errors.New("refused")}, api.HealthUnhealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newServer(t, tc.stub).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health-check", nil))
			var resp api.HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tc.want {
				t.Fatalf("status = %s, want %s", resp.Status, tc.want)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	stub := &stubPredictor{status: predictor.Status{
		Ready:     true,
		Completed: 2,
		Relocation: checkpoints.Result{
			Moved:  []checkpoints.Move{{Source: "a", Target: "b"}},
			Errors: []checkpoints.Failure{{Move: checkpoints.Move{Source: "c", Target: "d"}, Err: errors.New("denied")}},
		},
		Dirs: []staging.DirInfo{{Name: "output", Path: "/tmp/outputs", Files: 1, Size: 2048, Found: true}},
	}}
	rec := httptest.NewRecorder()
	newServer(t, stub).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var resp api.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Ready || resp.Completed != 2 || resp.Relocation.Moved != 1 || len(resp.Relocation.Errors) != 1 {
		t.Fatalf("unexpected status %+v", resp)
	}
	if len(resp.Dirs) != 1 || resp.Dirs[0].Size != "2.0 kB" {
		t.Fatalf("unexpected dirs %+v", resp.Dirs)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t, &stubPredictor{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predictions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
