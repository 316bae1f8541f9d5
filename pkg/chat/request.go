package chat

// ChatRequest is the inbound body for POST /api/chat.
// Created per incoming client call, discarded once the response completes.
type ChatRequest struct {
	Message string `json:"message"`

	// Session namespaces conversation memory. Empty means the default
	// single-user session.
	Session string `json:"session,omitempty"`

	// Stream selects the chunked event-stream response instead of the
	// single JSON envelope.
	Stream bool `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming response envelope.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the JSON envelope for orchestrator-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
