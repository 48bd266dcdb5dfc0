package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"cogcomfy/internal/config"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/predictor"
	"cogcomfy/internal/services"
)

const maxRequestBody = 64 << 20

// Predictor is the subset of *predictor.Predictor the server needs.
type Predictor interface {
	Predict(ctx context.Context, req predictor.Request) (predictor.Result, error)
	Status() predictor.Status
	Ping(ctx context.Context) error
}

// Server serves predictions over HTTP.
type Server struct {
	bind      string
	logger    *slog.Logger
	predictor Predictor
	defaults  predictor.Request
	downloads *http.Client

	listener net.Listener
	server   *http.Server
}

// NewServer builds the HTTP server for cfg.API.Bind.
func NewServer(cfg *config.Config, p Predictor, logger *slog.Logger) (*Server, error) {
	if cfg == nil || p == nil {
		return nil, errors.New("api server requires config and predictor")
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, services.Wrap(services.ErrConfiguration, "api", "", "api.bind is empty", nil)
	}
	s := &Server{
		bind:      bind,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		predictor: p,
		defaults:  predictor.RequestDefaults(cfg),
		downloads: &http.Client{Timeout: 5 * time.Minute},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health-check", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/predictions", s.handlePredictions)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the bind address and serves until ctx is cancelled or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.predictor.Status().Ready {
		s.writeJSON(w, http.StatusOK, HealthResponse{Status: HealthStarting})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.predictor.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusOK, HealthResponse{Status: HealthUnhealthy, Detail: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: HealthReady})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, FromStatus(s.predictor.Status()))
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body PredictionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, PredictionResponse{
			ID: body.ID, Status: StatusFailed, Output: []string{}, Error: "invalid request body: " + err.Error(),
		})
		return
	}

	if !s.predictor.Status().Ready {
		s.writeJSON(w, http.StatusServiceUnavailable, PredictionResponse{
			ID: body.ID, Status: StatusFailed, Output: []string{}, Error: "predictor is still starting",
		})
		return
	}

	inputFile, cleanup, err := materialise(r.Context(), s.downloads, body.Input.InputFile)
	defer cleanup()
	if err != nil {
		s.writeFailure(w, body.ID, err)
		return
	}
	body.Input.InputFile = inputFile

	result, err := s.predictor.Predict(r.Context(), ToRequest(body.Input, s.defaults))
	if err != nil {
		if body.ID == "" {
			body.ID = result.ID
		}
		s.writeFailure(w, body.ID, err)
		return
	}
	resp := FromResult(result)
	if body.ID != "" {
		resp.ID = body.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeFailure(w http.ResponseWriter, id string, err error) {
	status := http.StatusInternalServerError
	if services.IsInputError(err) {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, PredictionResponse{ID: id, Status: StatusFailed, Output: []string{}, Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
