package httpapi

import (
	"github.com/agent-racer/relaybroker/internal/registry"
	"github.com/agent-racer/relaybroker/internal/store"
)

// uploadFunctionsRequest is the body of POST /api/functions.
type uploadFunctionsRequest struct {
	Functions  []registry.FunctionEntry `json:"functions"`
	DeviceInfo map[string]any           `json:"deviceInfo"`
	Timestamp  string                   `json:"timestamp"`
}

// uploadFunctionsResponse is the body of POST /api/functions's success reply.
type uploadFunctionsResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// keepaliveResponse is the body of POST /api/keepalive's success reply.
type keepaliveResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// saveToPublicFile is one entry of POST /api/save-to-public's files array.
type saveToPublicFile struct {
	Filename string `json:"filename" validate:"required"`
	Content  string `json:"content"`
}

// saveToPublicRequest is the body of POST /api/save-to-public.
type saveToPublicRequest struct {
	Files []saveToPublicFile `json:"files" validate:"required,min=1,dive"`
}

// saveToPublicResponse is the body of POST /api/save-to-public's success reply.
type saveToPublicResponse struct {
	Success  bool     `json:"success"`
	Saved    []string `json:"saved"`
	Location string   `json:"location"`
	Message  string   `json:"message"`
}

// enqueueCommandRequest is the body of POST /api/remote-command.
type enqueueCommandRequest struct {
	ID            string `json:"id"`
	Function      string `json:"function" validate:"required"`
	Parameters    []any  `json:"parameters"`
	SourceCode    string `json:"sourceCode"`
	ExecutionMode string `json:"executionMode"`
}

// enqueueCommandResponse is the body of POST /api/remote-command's success reply.
type enqueueCommandResponse struct {
	Success   bool   `json:"success"`
	CommandID string `json:"commandId"`
}

// postResultRequest is the body of POST /api/execute-response.
type postResultRequest struct {
	CommandID      string   `json:"commandId" validate:"required"`
	Success        bool     `json:"success"`
	Data           any      `json:"data"`
	Error          string   `json:"error"`
	TVProcessingMs *float64 `json:"tvProcessingTimeMs"`
}

// postResultResponse is the body of POST /api/execute-response's reply.
type postResultResponse struct {
	Success bool `json:"success"`
}

// dispatchSingleResponse is the body of GET /api/remote-command.
type dispatchSingleResponse struct {
	HasCommand bool          `json:"hasCommand"`
	Command    *relayCommand `json:"command,omitempty"`
}

// dispatchBatchResponse is the body of GET /api/remote-command-batch.
type dispatchBatchResponse struct {
	HasCommands      bool            `json:"hasCommands"`
	Commands         []*relayCommand `json:"commands"`
	RemainingInQueue int             `json:"remainingInQueue"`
}

// relayCommand is the wire shape of a dispatched Command.
type relayCommand struct {
	ID            string `json:"id"`
	Function      string `json:"function"`
	Parameters    []any  `json:"parameters"`
	SourceCode    string `json:"sourceCode,omitempty"`
	ExecutionMode string `json:"executionMode"`
	Timestamp     string `json:"timestamp"`
}

// drainResultResponse is the body of GET /api/execute-response/:id.
type drainResultResponse struct {
	Waiting        bool     `json:"waiting,omitempty"`
	CommandID      string   `json:"commandId,omitempty"`
	Success        bool     `json:"success"`
	Data           any      `json:"data,omitempty"`
	Error          string   `json:"error,omitempty"`
	TVProcessingMs *float64 `json:"tvProcessingTimeMs,omitempty"`
}

// sessionSaveData is the body of POST /api/scan/session/save's data field.
type sessionSaveData struct {
	Results       []store.FileRecord `json:"results"`
	Session       map[string]any     `json:"session"`
	Variables     map[string]any     `json:"variables"`
	DeferredPaths []string           `json:"deferredPaths"`
}

// sessionSaveRequest is the body of POST /api/scan/session/save.
type sessionSaveRequest struct {
	SessionID string           `json:"sessionId" validate:"required"`
	Action    string           `json:"action" validate:"required,oneof=create merge"`
	RunID     *int             `json:"runId"`
	Data      *sessionSaveData `json:"data" validate:"required"`
}

// sessionSaveResponse is the body of POST /api/scan/session/save's reply.
type sessionSaveResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId"`
	TotalFiles int    `json:"totalFiles"`
	NewFiles   int    `json:"newFiles"`
	RunID      int    `json:"runId"`
	Size       int64  `json:"size"`
}

// sessionLoadResponse is the body of GET /api/scan/session/load/:id.
type sessionLoadResponse struct {
	SessionID string          `json:"sessionId"`
	Metadata  store.Metadata  `json:"metadata"`
	Data      store.SessionData `json:"data"`
}
