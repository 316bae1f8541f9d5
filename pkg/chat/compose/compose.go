// Package compose assembles the ordered message list sent to the model
// backend for one request.
//
// Compose is a pure function of its inputs: no I/O, no clock, no state. The
// ordering is fixed and load-bearing: system preamble first, memory turns
// oldest-first, an optional labeled context entry carrying search results,
// and the new user entry last. The backend's recency bias depends on the
// user entry being final.
package compose

import (
	"fmt"

	"github.com/chatunreal/unreal/pkg/chat"
)

// Compose builds a ComposedPrompt from the system preamble, the bounded
// memory window (oldest first), an optional search result, and the new user
// message. A nil result composes identically to no result at all.
func Compose(systemPrompt string, memory []chat.Turn, result *chat.SearchResult, userMessage string) chat.ComposedPrompt {
	prompt := make(chat.ComposedPrompt, 0, len(memory)+3)

	prompt = append(prompt, chat.Message{
		Role:    chat.RoleSystem,
		Content: systemPrompt,
	})

	for _, turn := range memory {
		prompt = append(prompt, chat.Message{
			Role:    turn.Role,
			Content: turn.Text,
		})
	}

	if result != nil {
		prompt = append(prompt, chat.Message{
			Role:    chat.RoleSystem,
			Content: formatContext(result),
		})
	}

	prompt = append(prompt, chat.Message{
		Role:    chat.RoleUser,
		Content: userMessage,
	})

	return prompt
}

// formatContext renders a search result as a labeled excerpt with its source.
func formatContext(result *chat.SearchResult) string {
	return fmt.Sprintf("Context from web search (%s): %s", result.SourceURL, result.Snippet)
}
