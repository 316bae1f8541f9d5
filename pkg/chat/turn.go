package chat

import (
	"regexp"
	"strings"
	"time"
)

// Turn is one message (user or assistant) in a conversation.
// Immutable once written to the memory store.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a Turn stamped with the current time.
// The text is sanitized before storage and the role normalized to lowercase.
func NewTurn(role, text string) Turn {
	return Turn{
		Role:      strings.ToLower(strings.TrimSpace(role)),
		Text:      Sanitize(text, 0),
		Timestamp: time.Now().UTC(),
	}
}

// controlChars matches the C0/C1 control characters stripped from incoming
// text. Newlines and tabs survive.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Sanitize trims whitespace, strips control characters, and clips the result
// to limit runes. A limit of zero means no length cap.
func Sanitize(text string, limit int) string {
	text = controlChars.ReplaceAllString(strings.TrimSpace(text), "")
	if limit > 0 {
		runes := []rune(text)
		if len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	return text
}
