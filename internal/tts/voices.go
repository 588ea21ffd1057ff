package tts

import "strings"

// VoiceTable maps ISO language codes to synthesis voices.
type VoiceTable struct {
	voices   map[string]string
	fallback string
}

func NewVoiceTable(voices map[string]string, fallback string) VoiceTable {
	copied := make(map[string]string, len(voices))
	for lang, voice := range voices {
		copied[strings.ToLower(lang)] = voice
	}
	return VoiceTable{voices: copied, fallback: fallback}
}

// Voice returns the voice for lang, or the fallback for unmapped codes.
func (t VoiceTable) Voice(lang string) string {
	if voice, ok := t.voices[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return voice
	}
	return t.fallback
}
