package server

import "time"

// Config is the chat relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":4891")
	ListenAddr string

	// QueueOverlap serializes overlapping requests for the same session on
	// the session lock instead of rejecting them with 409.
	QueueOverlap bool

	// MaxMessageLen caps the length of an incoming user message in runes.
	MaxMessageLen int

	// SystemPrompt is the fixed preamble prepended to every composed prompt.
	SystemPrompt string

	// PromptTurns bounds how many recent memory turns feed the prompt.
	PromptTurns int

	// HistoryTurns bounds the window served by the history endpoint.
	HistoryTurns int

	// IdleTimeout bounds the gap between consecutive stream chunks,
	// detecting a stalled backend mid-generation.
	IdleTimeout time.Duration
}
