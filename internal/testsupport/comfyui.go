package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FakeComfyUI is an httptest server speaking the subset of the ComfyUI API the
// adapter uses: /history, /prompt, /queue, /interrupt and the /ws stream.
type FakeComfyUI struct {
	Server *httptest.Server

	mu            sync.Mutex
	onPrompt      func(prompt json.RawMessage) error
	failure       string
	rejectPrompt  bool
	notReadyPolls int
	upgrader      websocket.Upgrader
	conns         map[string]*fakeConn
	prompts       []json.RawMessage
	clears        int
	interrupts    int
	polls         int
}

type fakeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *fakeConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *fakeConn) sendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// NewFakeComfyUI starts a fake server closed at test cleanup.
func NewFakeComfyUI(t testing.TB) *FakeComfyUI {
	t.Helper()
	f := &FakeComfyUI{conns: map[string]*fakeConn{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/history/0", f.handleHistory)
	mux.HandleFunc("/prompt", f.handlePrompt)
	mux.HandleFunc("/queue", f.handleQueue)
	mux.HandleFunc("/interrupt", f.handleInterrupt)
	mux.HandleFunc("/ws", f.handleWS)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// SetOnPrompt registers a hook run before completion is reported; a non-nil
// error is sent as an execution_error.
func (f *FakeComfyUI) SetOnPrompt(hook func(prompt json.RawMessage) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPrompt = hook
}

// SetFailure replaces the completion message with execution_error or
// execution_interrupted.
func (f *FakeComfyUI) SetFailure(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = kind
}

// SetRejectPrompt makes /prompt answer with node validation errors.
func (f *FakeComfyUI) SetRejectPrompt(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectPrompt = reject
}

// SetNotReadyPolls sets how many /history polls are answered with 503.
func (f *FakeComfyUI) SetNotReadyPolls(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notReadyPolls = n
}

// Address returns host:port of the fake server.
func (f *FakeComfyUI) Address() string {
	return strings.TrimPrefix(f.Server.URL, "http://")
}

// Prompts returns the workflows received on /prompt.
func (f *FakeComfyUI) Prompts() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.prompts...)
}

// Clears returns how many times /queue was cleared.
func (f *FakeComfyUI) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// Interrupts returns how many times /interrupt was called.
func (f *FakeComfyUI) Interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

// Requests returns the total number of calls that touched the queue.
func (f *FakeComfyUI) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts) + f.clears + f.interrupts
}

func (f *FakeComfyUI) handleHistory(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.polls++
	notReady := f.polls <= f.notReadyPolls
	f.mu.Unlock()
	if notReady {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

func (f *FakeComfyUI) handleQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Clear bool `json:"clear"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Clear {
		f.mu.Lock()
		f.clears++
		f.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeComfyUI) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *FakeComfyUI) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fc := &fakeConn{conn: conn}
	f.mu.Lock()
	f.conns[clientID] = fc
	f.mu.Unlock()

	_ = fc.send(map[string]any{
		"type": "status",
		"data": map[string]any{"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}}, "sid": clientID},
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.mu.Lock()
	if f.conns[clientID] == fc {
		delete(f.conns, clientID)
	}
	f.mu.Unlock()
	_ = conn.Close()
}

func (f *FakeComfyUI) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt   json.RawMessage `json:"prompt"`
		ClientID string          `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, body.Prompt)
	reject := f.rejectPrompt
	number := len(f.prompts)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reject {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "prompt_outputs_failed_validation", "message": "Prompt outputs failed validation", "details": ""},
			"node_errors": map[string]any{
				"3": map[string]any{"errors": []any{map[string]any{"message": "Value not in list"}}, "class_type": "KSampler"},
			},
		})
		return
	}

	promptID := uuid.NewString()
	_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": promptID, "number": number, "node_errors": map[string]any{}})
	go f.execute(body.ClientID, promptID, body.Prompt)
}

// waitConn returns the WebSocket registered for clientID. The upgrade
// handshake completes before registration, so a prompt can arrive first.
func (f *FakeComfyUI) waitConn(clientID string) *fakeConn {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		conn := f.conns[clientID]
		f.mu.Unlock()
		if conn != nil || time.Now().After(deadline) {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *FakeComfyUI) execute(clientID, promptID string, prompt json.RawMessage) {
	conn := f.waitConn(clientID)
	if conn == nil {
		return
	}
	send := func(kind string, data map[string]any) {
		_ = conn.send(map[string]any{"type": kind, "data": data})
	}
	send("executing", map[string]any{"node": nil, "prompt_id": "someone-else"})
	send("execution_start", map[string]any{"prompt_id": promptID})
	send("executing", map[string]any{"node": "3", "prompt_id": promptID})
	for step := 1; step <= 2; step++ {
		send("progress", map[string]any{"value": step, "max": 2, "node": "3", "prompt_id": promptID})
	}
	_ = conn.sendBinary([]byte{0, 0, 0, 1, 0xff, 0xd8})

	f.mu.Lock()
	hook, failure := f.onPrompt, f.failure
	f.mu.Unlock()

	var hookErr error
	if hook != nil {
		hookErr = hook(prompt)
	}
	switch {
	case hookErr != nil || failure == "execution_error":
		message := "fake failure"
		if hookErr != nil {
			message = hookErr.Error()
		}
		send("execution_error", map[string]any{
			"prompt_id": promptID, "node_id": "3", "node_type": "KSampler",
			"exception_type": "RuntimeError", "exception_message": message,
		})
	case failure == "execution_interrupted":
		send("execution_interrupted", map[string]any{"prompt_id": promptID, "node_id": "3"})
	default:
		send("executing", map[string]any{"node": "9", "prompt_id": promptID})
		send("executing", map[string]any{"node": nil, "prompt_id": promptID})
	}
}
