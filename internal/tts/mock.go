package tts

import (
	"context"
	"os"
	"time"
)

// mockMP3 is an MPEG-1 Layer III frame header followed by padding.
var mockMP3 = append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...)

type mockSynth struct{}

func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return os.WriteFile(req.OutputPath, mockMP3, 0o644)
}
