package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
	"cogcomfy/internal/workflow"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultStartupTimeout = 5 * time.Minute
	maxErrorBody          = 64 * 1024
)

// HTTPDoer describes the HTTP client used to reach the server.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "comfyui")
	}
}

// WithStartupTimeout bounds WaitReady.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.startupTimeout = timeout
		}
	}
}

// WithPollInterval sets the WaitReady polling interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithSeedSource sets the random source used by RandomiseSeeds.
func WithSeedSource(src workflow.Source) Option {
	return func(c *Client) {
		c.seeds = src
	}
}

// Client talks to one ComfyUI server under a stable client id.
type Client struct {
	address        string
	clientID       string
	http           HTTPDoer
	dialer         *websocket.Dialer
	logger         *slog.Logger
	startupTimeout time.Duration
	pollInterval   time.Duration
	seeds          workflow.Source

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient returns a client for the server at address (host:port).
func NewClient(address string, opts ...Option) *Client {
	address = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(address), "http://"), "/")
	c := &Client{
		address:        address,
		clientID:       uuid.NewString(),
		http:           &http.Client{Timeout: 30 * time.Second},
		dialer:         websocket.DefaultDialer,
		logger:         logging.NewComponentLogger(nil, "comfyui"),
		startupTimeout: defaultStartupTimeout,
		pollInterval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id the client registers with on the WebSocket.
func (c *Client) ClientID() string {
	return c.clientID
}

// Address returns the host:port the client targets.
func (c *Client) Address() string {
	return c.address
}

func (c *Client) endpoint(path string) string {
	return "http://" + c.address + path
}

// WaitReady polls the history endpoint until the server answers or the
// startup timeout elapses.
func (c *Client) WaitReady(ctx context.Context) error {
	logger := logging.WithContext(ctx, c.logger)
	deadline := time.Now().Add(c.startupTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	attempts := 0
	for {
		attempts++
		if err := c.ping(ctx); err == nil {
			logger.Info("comfyui server ready", logging.String("address", c.address), logging.Int("attempts", attempts))
			return nil
		} else if attempts == 1 {
			logger.Info("waiting for comfyui server", logging.String("address", c.address), logging.String("reason", err.Error()))
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return services.Wrap(services.ErrTimeout, "setup", "wait for server",
					fmt.Sprintf("%s not ready after %s", c.address, c.startupTimeout), ctx.Err())
			}
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Ping performs a single readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/history/0"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Connect opens the WebSocket, replacing any existing connection.
func (c *Client) Connect(ctx context.Context) error {
	wsURL := url.URL{Scheme: "ws", Host: c.address, Path: "/ws", RawQuery: url.Values{"clientId": {c.clientID}}.Encode()}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "run", "connect websocket", wsURL.String(), err)
	}

	c.mu.Lock()
	previous := c.conn
	c.conn = conn
	c.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	logging.WithContext(ctx, c.logger).Debug("websocket connected", logging.String("client_id", c.clientID))
	return nil
}

// Close drops the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// LoadWorkflow parses text, falling back to the bundled default when blank.
func (c *Client) LoadWorkflow(text string) (*workflow.Document, error) {
	return workflow.LoadOrDefault(text)
}

// RandomiseSeeds rewrites every seed input in doc.
func (c *Client) RandomiseSeeds(doc *workflow.Document) (int, error) {
	return workflow.RandomiseSeeds(doc, c.seeds)
}

// QueuePrompt submits doc and returns the prompt id. Node validation errors
// are reported as ErrMalformedWorkflow.
func (c *Client) QueuePrompt(ctx context.Context, doc *workflow.Document) (string, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(promptRequest{Prompt: doc, ClientID: c.clientID}); err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "run", "queue prompt", "", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "run", "read prompt response", "", err)
	}

	var decoded promptResponse
	decodeErr := json.Unmarshal(payload, &decoded)
	if resp.StatusCode != http.StatusOK || len(decoded.NodeErrors) > 0 {
		return "", promptFailure(resp.StatusCode, decoded, payload)
	}
	if decodeErr != nil || decoded.PromptID == "" {
		return "", services.Wrap(services.ErrExternalTool, "run", "queue prompt", "response missing prompt_id", decodeErr)
	}
	return decoded.PromptID, nil
}

func promptFailure(status int, decoded promptResponse, payload []byte) error {
	var perr promptError
	_ = json.Unmarshal(decoded.Error, &perr)
	message := strings.TrimSpace(perr.Message)
	if message == "" {
		message = strings.TrimSpace(string(payload))
	}
	if len(decoded.NodeErrors) > 0 {
		nodes := make([]string, 0, len(decoded.NodeErrors))
		for id := range decoded.NodeErrors {
			nodes = append(nodes, id)
		}
		sort.Strings(nodes)
		return services.Wrap(services.ErrMalformedWorkflow, "run", "queue prompt",
			fmt.Sprintf("%s (nodes %s)", message, strings.Join(nodes, ", ")), nil)
	}
	if status == http.StatusBadRequest {
		return services.Wrap(services.ErrMalformedWorkflow, "run", "queue prompt", message, nil)
	}
	return services.Wrap(services.ErrExternalTool, "run", "queue prompt", fmt.Sprintf("status %d: %s", status, message), nil)
}

// RunWorkflow queues doc and blocks until the server reports completion or
// failure of the prompt. The WebSocket is opened on demand.
func (c *Client) RunWorkflow(ctx context.Context, doc *workflow.Document, progress ProgressFunc) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	promptID, err := c.QueuePrompt(ctx, doc)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, c.logger).With(logging.String("prompt_id", promptID))
	logger.Info("prompt queued")
	started := time.Now()

	if err := c.follow(ctx, conn, promptID, progress, logger); err != nil {
		return err
	}
	logger.Info("prompt finished", logging.Duration("elapsed", time.Since(started)))
	return nil
}

func (c *Client) follow(ctx context.Context, conn *websocket.Conn, promptID string, progress ProgressFunc, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	emit := func(event Event) {
		if progress != nil {
			progress(event)
		}
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return services.Wrap(services.ErrExternalTool, "run", "read websocket", "", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring undecodable websocket message", logging.Error(err))
			continue
		}

		switch msg.Type {
		case MessageExecuting:
			var payload executingData
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PromptID != promptID {
				continue
			}
			if payload.Node == nil {
				emit(Event{Type: MessageExecuting, PromptID: promptID})
				return nil
			}
			logger.Debug("executing node", logging.String("node", *payload.Node))
			emit(Event{Type: MessageExecuting, PromptID: promptID, Node: *payload.Node})
		case MessageProgress:
			var payload progressData
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			if payload.PromptID != "" && payload.PromptID != promptID {
				continue
			}
			emit(Event{Type: MessageProgress, PromptID: promptID, Node: payload.Node, Value: payload.Value, Max: payload.Max})
		case MessageExecutionError:
			var payload executionErrorData
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PromptID != promptID {
				continue
			}
			detail := fmt.Sprintf("node %s (%s): %s: %s", payload.NodeID, payload.NodeType, payload.ExceptionType, strings.TrimSpace(payload.ExceptionMessage))
			return services.Wrap(services.ErrExternalTool, "run", "execute workflow", detail, nil)
		case MessageExecutionInterrupted:
			var payload promptData
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PromptID != promptID {
				continue
			}
			return services.Wrap(services.ErrExternalTool, "run", "execute workflow", "execution interrupted", nil)
		case MessageExecutionCached:
			logger.Debug("cached nodes skipped")
		}
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// ClearQueue removes pending prompts and interrupts the running one.
func (c *Client) ClearQueue(ctx context.Context) error {
	if err := c.post(ctx, "/queue", []byte(`{"clear":true}`)); err != nil {
		return services.Wrap(services.ErrExternalTool, "cleanup", "clear queue", "", err)
	}
	if err := c.post(ctx, "/interrupt", nil); err != nil {
		return services.Wrap(services.ErrExternalTool, "cleanup", "interrupt", "", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return nil
}
