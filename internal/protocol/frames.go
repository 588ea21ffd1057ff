package protocol

import (
	"encoding/json"
	"strings"
)

const (
	MarkerStartJSON = "$[[START_JSON]]"
	MarkerEndJSON   = "$[[END_JSON]]"
	MarkerAudioDone = "$[[AUDIO_DONE]]"
)

// Metadata opens every reply stream.
type Metadata struct {
	ChannelName  *string `json:"channel_name"`
	ChannelID    string  `json:"channel_id"`
	ResolvedText *string `json:"resolved_text,omitempty"`
}

// AudioDone closes a reply stream when synthesis succeeded.
type AudioDone struct {
	AudioURL  string `json:"audio_url"`
	ChannelID string `json:"channel_id"`
}

// MetadataFrame renders $[[START_JSON]]<json>$[[END_JSON]] followed by a blank line.
func MetadataFrame(m Metadata) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+len(MarkerStartJSON)+len(MarkerEndJSON)+2)
	frame = append(frame, MarkerStartJSON...)
	frame = append(frame, payload...)
	frame = append(frame, MarkerEndJSON...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// AudioDoneFrame renders \n$[[AUDIO_DONE]]<json>$[[AUDIO_DONE]].
func AudioDoneFrame(a AudioDone) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+2*len(MarkerAudioDone)+1)
	frame = append(frame, '\n')
	frame = append(frame, MarkerAudioDone...)
	frame = append(frame, payload...)
	frame = append(frame, MarkerAudioDone...)
	return frame, nil
}

// ContainsMarker reports whether text carries any frame sentinel.
func ContainsMarker(text string) bool {
	return strings.Contains(text, MarkerStartJSON) ||
		strings.Contains(text, MarkerEndJSON) ||
		strings.Contains(text, MarkerAudioDone)
}
