package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMetadataFrameLayout(t *testing.T) {
	frame, err := MetadataFrame(Metadata{ChannelID: "c-1"})
	if err != nil {
		t.Fatalf("metadata frame: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, MarkerStartJSON) || !strings.HasSuffix(s, MarkerEndJSON+"\n\n") {
		t.Fatalf("unexpected framing: %q", s)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, MarkerStartJSON), MarkerEndJSON+"\n\n")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if v, ok := decoded["channel_name"]; !ok || v != nil {
		t.Fatalf("expected channel_name null, got %v", decoded)
	}
	if _, ok := decoded["resolved_text"]; ok {
		t.Fatal("resolved_text must be omitted for text input")
	}
	if decoded["channel_id"] != "c-1" {
		t.Fatalf("unexpected channel id %v", decoded["channel_id"])
	}
}

func TestMetadataFrameResolvedText(t *testing.T) {
	name, text := "Hello", "merhaba"
	frame, err := MetadataFrame(Metadata{ChannelName: &name, ChannelID: "c-2", ResolvedText: &text})
	if err != nil {
		t.Fatalf("metadata frame: %v", err)
	}
	want := `$[[START_JSON]]{"channel_name":"Hello","channel_id":"c-2","resolved_text":"merhaba"}$[[END_JSON]]` + "\n\n"
	if string(frame) != want {
		t.Fatalf("got %q want %q", frame, want)
	}
}

func TestAudioDoneFrame(t *testing.T) {
	frame, err := AudioDoneFrame(AudioDone{AudioURL: "/static/audio/audio-x.mp3", ChannelID: "c-3"})
	if err != nil {
		t.Fatalf("audio frame: %v", err)
	}
	want := "\n$[[AUDIO_DONE]]" + `{"audio_url":"/static/audio/audio-x.mp3","channel_id":"c-3"}` + "$[[AUDIO_DONE]]"
	if string(frame) != want {
		t.Fatalf("got %q want %q", frame, want)
	}
}

func TestContainsMarker(t *testing.T) {
	if ContainsMarker("plain reply") {
		t.Fatal("plain text flagged")
	}
	if !ContainsMarker("oops $[[AUDIO_DONE]]") {
		t.Fatal("marker not detected")
	}
}
