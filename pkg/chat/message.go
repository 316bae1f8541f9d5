// Package chat defines the wire and domain types shared across the relay:
// conversation turns, composed prompt messages, streaming chunks, and the
// client-facing request/response envelopes.
package chat

// Conversation roles. System and User appear in composed prompts; Turns in
// memory only ever carry User or Assistant.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single {role, content} entry in a composed prompt.
// The ordering of messages is the contract the model backend depends on:
// the newest user intent must always be the final entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ComposedPrompt is the fully assembled, ordered message list sent to the
// model backend for one request. Built fresh per request, never persisted.
type ComposedPrompt []Message
