package tts

import "regexp"

var disallowed = regexp.MustCompile(`[^\p{L}\p{Nd}\s,.!?'-]`)

// Sanitize keeps letters, digits, whitespace and , . ! ? ' - only.
func Sanitize(text string) string {
	return disallowed.ReplaceAllString(text, "")
}
