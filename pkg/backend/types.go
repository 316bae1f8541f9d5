package backend

// chatRequest is the OpenAI-compatible chat completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage is a message in the OpenAI-compatible wire format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamChunk is one SSE data payload from a streaming chat completions
// response. Only the delta content is relevant for relay.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// errorBody is the error envelope some OpenAI-compatible servers return on
// non-200 responses. Both shapes ({"error":"..."} and
// {"error":{"message":"..."}}) are seen in the wild.
type errorBody struct {
	Error any `json:"error"`
}
