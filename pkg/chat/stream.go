package chat

// StreamChunk is a single incremental fragment of a streaming reply.
// This is the internal representation after parsing the backend's
// provider-specific delta frames, and also the payload shape of the frames
// the relay emits to streaming clients.
type StreamChunk struct {
	// Delta is the incremental text fragment.
	Delta string `json:"delta"`

	// Done marks the terminal chunk. A Done chunk carries no delta.
	Done bool `json:"done"`
}
