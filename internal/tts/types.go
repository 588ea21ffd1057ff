package tts

import "context"

// SynthRequest contains parameters to synthesize speech into a file.
type SynthRequest struct {
	Text       string
	Voice      string
	OutputPath string
}

// Synthesizer is the contract for producing an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) error
}

// Artifact is a synthesized audio file addressed by its request id.
type Artifact struct {
	RequestID string
	Path      string
	URL       string
}
