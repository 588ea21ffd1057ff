// Package ingest turns an uploaded audio recording into text. Every
// intermediate file it creates is removed before Transcribe returns.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/transcode"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MessageEmptyFile is reported for zero-length uploads.
const MessageEmptyFile = "Empty file received"

// Canonicalizer produces the canonical waveform for an audio container.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, p transcode.Paths) error
}

// Recognizer converts a canonical waveform into text.
type Recognizer interface {
	Recognize(ctx context.Context, wavPath, language string) (string, error)
}

type Pipeline struct {
	chain      Canonicalizer
	recognizer Recognizer
	tempDir    string
	language   string
	logger     *slog.Logger
}

// New builds a pipeline. An empty tempDir uses os.TempDir; defaultLanguage is
// used when a request carries no language.
func New(chain Canonicalizer, recognizer Recognizer, tempDir, defaultLanguage string, logger *slog.Logger) *Pipeline {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Pipeline{
		chain:      chain,
		recognizer: recognizer,
		tempDir:    tempDir,
		language:   defaultLanguage,
		logger:     logger.With(slog.String("component", "ingest")),
	}
}

func (p *Pipeline) Transcribe(ctx context.Context, raw []byte, language string) (text string, err error) {
	ctx, span := otel.Tracer("github.com/loqalabs/loqa-chat/ingest").Start(ctx, "ingest.transcribe")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(raw) == 0 {
		return "", errorsx.New(errorsx.KindInput, MessageEmptyFile)
	}
	if language == "" {
		language = p.language
	}
	span.SetAttributes(attribute.Int("audio.bytes", len(raw)), attribute.String("audio.language", language))

	id := uuid.NewString()
	base := filepath.Join(p.tempDir, "temp_raw_"+id)
	paths := transcode.Paths{
		Input:    base + ".webm",
		Repaired: base + "_repaired.webm",
		Output:   base + ".wav",
	}
	defer p.cleanup(paths.Input, paths.Repaired, paths.Output)

	p.logger.Info("received audio", slog.Int("size", len(raw)))
	if err := os.WriteFile(paths.Input, raw, 0o600); err != nil {
		return "", fmt.Errorf("persist upload: %w", err)
	}

	if err := p.chain.Canonicalize(ctx, paths); err != nil {
		return "", err
	}

	return p.recognizer.Recognize(ctx, paths.Output, language)
}

func (p *Pipeline) cleanup(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				p.logger.Warn("failed to remove temporary file", slog.String("path", path), slog.String("error", err.Error()))
			}
			continue
		}
		p.logger.Debug("removed temporary file", slog.String("path", path))
	}
}
