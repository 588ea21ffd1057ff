package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/workerpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MessageNoSpeech replaces recognizer failures that carry no message.
const MessageNoSpeech = "No speech detected in the audio file."

var errNoSpeech = errors.New("")

// Service turns a canonical waveform into text and classifies every failure
// as a recognition error.
type Service struct {
	recognizer Recognizer
	pool       *workerpool.Pool
	logger     *slog.Logger
	failures   metric.Int64Counter
}

func NewService(recognizer Recognizer, pool *workerpool.Pool, logger *slog.Logger) *Service {
	s := &Service{
		recognizer: recognizer,
		pool:       pool,
		logger:     logger.With(slog.String("component", "stt")),
	}
	failures, err := otel.Meter("github.com/loqalabs/loqa-chat/stt").Int64Counter("stt.recognition.failures")
	if err != nil {
		s.logger.Warn("failed to create failure counter", slog.String("error", err.Error()))
	} else {
		s.failures = failures
	}
	return s
}

func (s *Service) Recognize(ctx context.Context, wavPath, language string) (string, error) {
	s.logger.Info("performing speech recognition", slog.String("path", wavPath), slog.String("language", language))

	var result TranscriptResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.recognizer.Recognize(ctx, wavPath, language)
		return err
	}
	var err error
	if s.pool != nil {
		err = s.pool.Do(ctx, run)
	} else {
		err = run(ctx)
	}

	var text string
	if err == nil {
		text = strings.TrimSpace(result.Text)
		if text == "" {
			err = errNoSpeech
		}
	}
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = MessageNoSpeech
		}
		s.logger.Error("speech recognition error", slog.String("error", msg))
		if s.failures != nil {
			s.failures.Add(ctx, 1)
		}
		return "", &errorsx.Error{Kind: errorsx.KindRecognition, Message: msg, Err: err}
	}

	s.logger.Info("recognition successful", slog.String("text", text))
	return text, nil
}
