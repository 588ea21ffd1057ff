// Package tts synthesizes reply text into an audio artifact addressed by a
// request id.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/workerpool"
)

// Options carries the explicit synthesis settings.
type Options struct {
	AudioDir  string
	URLPrefix string
	Voices    VoiceTable
	MinChars  int
	MaxChars  int
}

func OptionsFromConfig(cfg config.TTSConfig) Options {
	return Options{
		AudioDir:  cfg.AudioDir,
		URLPrefix: cfg.URLPrefix,
		Voices:    NewVoiceTable(cfg.Voices, cfg.DefaultVoice),
		MinChars:  cfg.MinChars,
		MaxChars:  cfg.MaxChars,
	}
}

type Service struct {
	opts   Options
	synth  Synthesizer
	pool   *workerpool.Pool
	logger *slog.Logger
}

func NewService(opts Options, synth Synthesizer, pool *workerpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		opts:   opts,
		synth:  synth,
		pool:   pool,
		logger: logger.With(slog.String("component", "tts")),
	}
}

// ArtifactName is the file name used for requestID's audio.
func ArtifactName(requestID string) string {
	return "audio-" + requestID + ".mp3"
}

// Synthesize writes the audio for text to the artifact named after requestID.
func (s *Service) Synthesize(ctx context.Context, text, language, requestID string) (Artifact, error) {
	if requestID == "" {
		return Artifact{}, errorsx.New(errorsx.KindInput, "request id missing")
	}
	cleaned := strings.TrimSpace(Sanitize(text))
	length := utf8.RuneCountInString(cleaned)
	if length < s.opts.MinChars {
		return Artifact{}, errorsx.New(errorsx.KindValidation, "Text is too short or empty after cleaning")
	}
	if length > s.opts.MaxChars {
		return Artifact{}, errorsx.New(errorsx.KindValidation, "Text is too long for TTS generation")
	}

	name := ArtifactName(requestID)
	artifact := Artifact{
		RequestID: requestID,
		Path:      filepath.Join(s.opts.AudioDir, name),
		URL:       path.Join(s.opts.URLPrefix, name),
	}
	if err := os.MkdirAll(s.opts.AudioDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create audio dir: %w", err)
	}

	req := SynthRequest{Text: cleaned, Voice: s.opts.Voices.Voice(language), OutputPath: artifact.Path}
	run := func(ctx context.Context) error { return s.synth.Synthesize(ctx, req) }
	var err error
	if s.pool != nil {
		err = s.pool.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		_ = os.Remove(artifact.Path)
		return Artifact{}, errorsx.Wrap(err, errorsx.KindSynthesis, "Failed to generate speech")
	}

	info, err := os.Stat(artifact.Path)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(artifact.Path)
		return Artifact{}, errorsx.New(errorsx.KindSynthesis, "Audio file was not created or is empty")
	}

	s.logger.Info("saved speak file",
		slog.String("path", artifact.Path),
		slog.String("voice", req.Voice),
		slog.Int("characters", length))
	return artifact, nil
}
