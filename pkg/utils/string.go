package utils

// Truncate clips s to maxLen runes, appending an ellipsis when clipped.
// Rune-aware so multibyte chat text is never cut mid-character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
