package stt

import (
	"context"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. wavPath always points at a canonical waveform.
type Recognizer interface {
	Recognize(ctx context.Context, wavPath string, language string) (TranscriptResult, error)
}
