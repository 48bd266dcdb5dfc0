package comfyui

import "encoding/json"

// Message types emitted on the ComfyUI WebSocket.
const (
	MessageStatus               = "status"
	MessageExecutionStart       = "execution_start"
	MessageExecuting            = "executing"
	MessageExecutionCached      = "execution_cached"
	MessageProgress             = "progress"
	MessageExecuted             = "executed"
	MessageExecutionSuccess     = "execution_success"
	MessageExecutionError       = "execution_error"
	MessageExecutionInterrupted = "execution_interrupted"
)

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type promptData struct {
	PromptID string `json:"prompt_id"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type progressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionType    string `json:"exception_type"`
	ExceptionMessage string `json:"exception_message"`
}

type promptRequest struct {
	Prompt   json.Marshaler `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
	Error      json.RawMessage            `json:"error"`
}

type promptError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// Event is a progress notification forwarded to RunWorkflow callers.
type Event struct {
	Type     string
	PromptID string
	Node     string
	Value    int
	Max      int
}

// ProgressFunc receives execution events for the running prompt.
type ProgressFunc func(Event)
