// Package orchestrator drives one streamed chat reply: it writes the
// metadata frame, relays model text, synthesizes speech for the finished
// reply and persists the updated history exactly once.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-chat/internal/protocol"
	"github.com/loqalabs/loqa-chat/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type ReplyStreamer interface {
	Stream(ctx context.Context, model string, history []protocol.ChatMessage, yield func(string) error) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, requestID string) (tts.Artifact, error)
}

type LanguageDetector interface {
	Detect(text string) string
}

// HistoryAppender receives the complete updated history of a channel.
type HistoryAppender interface {
	Append(ctx context.Context, sessionID, channelID string, full []protocol.ChatMessage) error
}

type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Request is the per-call input of Run.
type Request struct {
	Model     string
	History   []protocol.ChatMessage
	Language  string
	ChannelID string
	// ChannelName is set only when the channel was created for this request.
	ChannelName *string
	SessionID   string
	// ResolvedText carries the transcript when the user spoke instead of typing.
	ResolvedText *string
}

// Emit writes bytes to the client. An error means the client is gone.
type Emit func([]byte) error

type Deps struct {
	Model     ReplyStreamer
	Speech    Synthesizer
	Detector  LanguageDetector
	History   HistoryAppender
	Publisher Publisher // optional

	// ModelTimeout bounds the model stream; zero means no limit.
	ModelTimeout time.Duration
	Logger       *slog.Logger
}

type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
	newID  func() string
	now    func() time.Time

	started     metric.Int64Counter
	aborted     metric.Int64Counter
	persisted   metric.Int64Counter
	synthFailed metric.Int64Counter
}

func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		deps:   deps,
		logger: logger.With(slog.String("component", "orchestrator")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-chat/orchestrator"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	meter := otel.Meter("github.com/loqalabs/loqa-chat/orchestrator")
	var err error
	if o.started, err = meter.Int64Counter("chat.streams.started"); err != nil {
		o.logger.Warn("failed to create counter", slog.String("name", "chat.streams.started"), slogError(err))
	}
	if o.aborted, err = meter.Int64Counter("chat.streams.aborted"); err != nil {
		o.logger.Warn("failed to create counter", slog.String("name", "chat.streams.aborted"), slogError(err))
	}
	if o.persisted, err = meter.Int64Counter("chat.replies.persisted"); err != nil {
		o.logger.Warn("failed to create counter", slog.String("name", "chat.replies.persisted"), slogError(err))
	}
	if o.synthFailed, err = meter.Int64Counter("chat.synthesis.failures"); err != nil {
		o.logger.Warn("failed to create counter", slog.String("name", "chat.synthesis.failures"), slogError(err))
	}
	return o
}

// Run streams one reply through emit. Model and synthesis failures are
// logged and end the stream early; they are never returned. The returned
// error is non-nil only when emit failed, in which case the run was
// abandoned and nothing was persisted.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emit) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("chat.model", req.Model),
		attribute.String("chat.channel_id", req.ChannelID),
	))
	defer span.End()
	o.add(ctx, o.started)

	log := o.logger.With(
		slog.String("session_id", req.SessionID),
		slog.String("channel_id", req.ChannelID),
		slog.String("model", req.Model),
	)

	frame, err := protocol.MetadataFrame(protocol.Metadata{
		ChannelName:  req.ChannelName,
		ChannelID:    req.ChannelID,
		ResolvedText: req.ResolvedText,
	})
	if err != nil {
		log.Error("failed to encode metadata frame", slogError(err))
		return nil
	}
	if err := emit(frame); err != nil {
		return o.abandon(ctx, span, log, err)
	}

	start := o.now()
	var reply strings.Builder
	var emitErr error
	streamErr := o.stream(ctx, req, func(text string) error {
		if protocol.ContainsMarker(text) {
			log.Warn("model output contains a frame marker")
		}
		reply.WriteString(text)
		if err := emit([]byte(text)); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return o.abandon(ctx, span, log, emitErr)
	}
	if streamErr != nil {
		log.Error("error during model streaming", slogError(streamErr))
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "model stream failed")
		o.add(ctx, o.aborted)
		return nil
	}

	content := reply.String()
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Error("no response received from model")
		o.add(ctx, o.aborted)
		return nil
	}

	requestID := o.newID()
	audioURL := o.synthesize(ctx, log, trimmed, req.Language, requestID)
	if audioURL != "" {
		frame, err := protocol.AudioDoneFrame(protocol.AudioDone{AudioURL: audioURL, ChannelID: req.ChannelID})
		if err != nil {
			log.Error("failed to encode audio frame", slogError(err))
		} else if err := emit(frame); err != nil {
			log.Warn("client went away before audio frame", slogError(err))
		}
	}

	full := make([]protocol.ChatMessage, 0, len(req.History)+1)
	full = append(full, req.History...)
	full = append(full, protocol.ChatMessage{Role: protocol.RoleAI, Content: content, AudioURL: audioURL})
	if err := o.deps.History.Append(ctx, req.SessionID, req.ChannelID, full); err != nil {
		log.Error("failed to persist chat history", slogError(err))
		span.RecordError(err)
		return nil
	}
	o.add(ctx, o.persisted)

	o.publish(log, protocol.ChatCompleted{
		SessionID:  req.SessionID,
		ChannelID:  req.ChannelID,
		RequestID:  requestID,
		Model:      req.Model,
		AudioURL:   audioURL,
		Characters: len([]rune(content)),
		Timestamp:  o.now().UTC(),
	})

	log.Info("completed response pipeline",
		slog.String("request_id", requestID),
		slog.Duration("elapsed", o.now().Sub(start)))
	return nil
}

func (o *Orchestrator) stream(ctx context.Context, req Request, yield func(string) error) error {
	if o.deps.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.ModelTimeout)
		defer cancel()
	}
	return o.deps.Model.Stream(ctx, req.Model, req.History, yield)
}

// synthesize returns the artifact URL, or "" when synthesis failed.
func (o *Orchestrator) synthesize(ctx context.Context, log *slog.Logger, text, language, requestID string) string {
	if o.deps.Speech == nil {
		return ""
	}
	if language == "" && o.deps.Detector != nil {
		language = o.deps.Detector.Detect(text)
	}
	artifact, err := o.deps.Speech.Synthesize(ctx, text, language, requestID)
	if err != nil {
		log.Error("audio generation failed", slog.String("request_id", requestID), slogError(err))
		o.add(ctx, o.synthFailed)
		return ""
	}
	return artifact.URL
}

func (o *Orchestrator) publish(log *slog.Logger, evt protocol.ChatCompleted) {
	if o.deps.Publisher == nil {
		return
	}
	if err := o.deps.Publisher.PublishJSON(protocol.SubjectChatCompleted, evt); err != nil {
		log.Warn("failed to publish chat completion", slogError(err))
	}
}

func (o *Orchestrator) abandon(ctx context.Context, span trace.Span, log *slog.Logger, err error) error {
	log.Warn("client disconnected mid-stream", slogError(err))
	span.SetStatus(codes.Error, "client disconnected")
	o.add(ctx, o.aborted)
	return err
}

func (o *Orchestrator) add(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
