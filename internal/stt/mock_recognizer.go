package stt

import (
	"context"
	"fmt"
	"os"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Recognize(_ context.Context, wavPath string, language string) (TranscriptResult, error) {
	info, err := os.Stat(wavPath)
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{
		Text: fmt.Sprintf("[%s transcript size=%d]", language, info.Size()),
	}, nil
}
