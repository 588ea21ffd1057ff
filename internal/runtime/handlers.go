package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/history"
	"github.com/loqalabs/loqa-chat/internal/llm"
	"github.com/loqalabs/loqa-chat/internal/orchestrator"
	"github.com/loqalabs/loqa-chat/internal/protocol"
)

const (
	sessionCookie  = "session_id"
	maxUploadBytes = 32 << 20
)

// User-facing messages for pre-stream failures.
const (
	msgChannelMissing = "Channel does not exist."
	msgModelMissing   = "Model parameter missing"
	msgModelUnknown   = "Model does not exist"
	msgNoInput        = "Could not extract any user input from audio or text."
	msgHistoryDeleted = "History deleted successfully."
)

type historyStore interface {
	CreateChannel(ctx context.Context, sessionID, channelID, title string) (protocol.Channel, error)
	ChannelExists(ctx context.Context, sessionID, channelID string) (bool, error)
	Channels(ctx context.Context, sessionID string) ([]protocol.Channel, error)
	Load(ctx context.Context, sessionID, channelID string, reversed bool) ([]protocol.ChatMessage, error)
	DeleteChannel(ctx context.Context, sessionID, channelID string) error
	DeleteAllChannels(ctx context.Context, sessionID string) (int64, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, raw []byte, language string) (string, error)
}

type replyRunner interface {
	Run(ctx context.Context, req orchestrator.Request, emit orchestrator.Emit) error
}

// chatAPI serves the browser-facing chat and history endpoints.
type chatAPI struct {
	store     historyStore
	catalog   llm.Catalog
	ingest    transcriber
	replies   replyRunner
	publisher orchestrator.Publisher
	chat      config.ChatConfig
	logger    *slog.Logger
}

func (a *chatAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/{$}", a.handleChat)
	mux.HandleFunc("GET /api/history/{channel_id}", a.handleHistory)
	mux.HandleFunc("DELETE /api/history/delete-all", a.handleDeleteAll)
	mux.HandleFunc("DELETE /api/history/{channel_id}/{$}", a.handleDeleteChannel)
	mux.HandleFunc("GET /api/data", a.handleData)
}

func (a *chatAPI) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := sessionFromContext(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, errorsx.Wrap(err, errorsx.KindInput, "Invalid form data"))
		return
	}
	channelID := r.FormValue("channel_id")
	text := r.FormValue("text")
	model := r.FormValue("model")
	language := r.FormValue("language")

	if channelID != "" {
		ok, err := a.store.ChannelExists(ctx, sessionID, channelID)
		if err != nil {
			a.logger.Error("channel lookup failed", slogError(err))
			writeError(w, err)
			return
		}
		if !ok {
			a.logger.Error("channel does not exist for session",
				slog.String("channel_id", channelID), slog.String("session_id", sessionID))
			writeError(w, errorsx.New(errorsx.KindNotFound, msgChannelMissing))
			return
		}
	}
	if model == "" {
		writeError(w, errorsx.New(errorsx.KindInput, msgModelMissing))
		return
	}
	if err := a.checkModel(ctx, model); err != nil {
		writeError(w, err)
		return
	}

	userInput, fromAudio, err := a.userInput(r, text, language)
	if err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("input reached", slog.String("session_id", sessionID), slog.Bool("audio", fromAudio))
	if userInput == "" {
		a.logger.Warn("failed to extract user input", slog.String("session_id", sessionID))
		writeError(w, errorsx.New(errorsx.KindInput, msgNoInput))
		return
	}

	req := orchestrator.Request{
		Model:     model,
		Language:  language,
		ChannelID: channelID,
		SessionID: sessionID,
	}
	if fromAudio {
		req.ResolvedText = &userInput
	}

	created := false
	if channelID == "" {
		title := strings.TrimSpace(text)
		if title == "" {
			title = userInput
		}
		channel, err := a.store.CreateChannel(ctx, sessionID, uuid.NewString(), title)
		if err != nil {
			a.logger.Error("create channel failed", slogError(err))
			writeError(w, err)
			return
		}
		created = true
		req.ChannelID = channel.ID
		req.ChannelName = &channel.Title
	}

	start := time.Now()
	req.History, err = a.buildHistory(ctx, sessionID, req.ChannelID, created, r.FormValue("system_message"), userInput)
	if err != nil {
		a.logger.Error("load chat history failed", slogError(err))
		writeError(w, err)
		return
	}
	a.logger.Info("loaded chat history",
		slog.String("channel_id", req.ChannelID),
		slog.Int("messages", len(req.History)),
		slog.Duration("elapsed", time.Since(start)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	emit := func(p []byte) error {
		if _, err := w.Write(p); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	if err := a.replies.Run(ctx, req, emit); err != nil {
		a.logger.Warn("reply stream abandoned", slog.String("channel_id", req.ChannelID), slogError(err))
	}
}

func (a *chatAPI) checkModel(ctx context.Context, model string) error {
	models, err := a.catalog.Models(ctx)
	if err != nil {
		a.logger.Error("list models failed", slogError(err))
		return errorsx.Wrap(err, errorsx.KindUnknown, "Could not list models")
	}
	if !slices.Contains(models, model) {
		return errorsx.New(errorsx.KindNotFound, msgModelUnknown)
	}
	return nil
}

// userInput prefers the uploaded recording when no text was typed.
func (a *chatAPI) userInput(r *http.Request, text, language string) (string, bool, error) {
	file, _, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
	}
	if err == nil && text == "" {
		raw, err := io.ReadAll(file)
		if err != nil {
			return "", true, errorsx.Wrap(err, errorsx.KindInput, "Could not read uploaded file")
		}
		transcript, err := a.ingest.Transcribe(r.Context(), raw, language)
		if err != nil {
			a.logger.Error("audio transcription failed", slogError(err))
			return "", true, err
		}
		return strings.TrimSpace(transcript), true, nil
	}
	return strings.TrimSpace(text), false, nil
}

// buildHistory loads the channel log, ensures the system message leads it
// and appends the user turn. With legacy ordering the log is loaded newest
// first and flipped back only for channels that already existed.
func (a *chatAPI) buildHistory(ctx context.Context, sessionID, channelID string, created bool, systemMessage, userInput string) ([]protocol.ChatMessage, error) {
	legacy := a.chat.LegacyHistoryOrder
	messages, err := a.store.Load(ctx, sessionID, channelID, legacy)
	if err != nil {
		return nil, err
	}
	if systemMessage == "" {
		systemMessage = a.chat.SystemMessage
	}
	if len(messages) == 0 || messages[0].Role != protocol.RoleSystem {
		messages = slices.Insert(messages, 0, protocol.ChatMessage{Role: protocol.RoleSystem, Content: systemMessage})
	}
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleUser, Content: userInput})
	if legacy && !created {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (a *chatAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	channelID := r.PathValue("channel_id")
	messages, err := a.store.Load(r.Context(), sessionID, channelID, false)
	if err != nil {
		a.logger.Error("load history failed", slogError(err))
		writeError(w, err)
		return
	}
	a.logger.Info("retrieved history", slog.String("channel_id", channelID))
	writeJSON(w, http.StatusOK, map[string]any{"history": messages})
}

func (a *chatAPI) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	channelID := r.PathValue("channel_id")
	if err := a.store.DeleteChannel(r.Context(), sessionID, channelID); err != nil {
		if errors.Is(err, history.ErrChannelNotFound) {
			writeError(w, errorsx.New(errorsx.KindNotFound, msgChannelMissing))
			return
		}
		a.logger.Error("delete channel failed", slogError(err))
		writeError(w, err)
		return
	}
	a.logger.Info("deleted history", slog.String("channel_id", channelID))
	a.publishDeleted(protocol.ChannelDeleted{SessionID: sessionID, ChannelID: channelID, Timestamp: time.Now().UTC()})
	writeJSON(w, http.StatusOK, map[string]string{"success": "true", "message": msgHistoryDeleted})
}

func (a *chatAPI) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	n, err := a.store.DeleteAllChannels(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("delete all channels failed", slogError(err))
		writeError(w, err)
		return
	}
	a.logger.Info("deleted all history", slog.String("session_id", sessionID), slog.Int64("channels", n))
	a.publishDeleted(protocol.ChannelDeleted{SessionID: sessionID, All: true, Timestamp: time.Now().UTC()})
	writeJSON(w, http.StatusOK, map[string]string{"success": "true", "message": msgHistoryDeleted})
}

func (a *chatAPI) handleData(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	channels, err := a.store.Channels(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("list channels failed", slogError(err))
		writeError(w, err)
		return
	}
	models, err := a.catalog.Models(r.Context())
	if err != nil {
		a.logger.Warn("list models failed", slogError(err))
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels, "models": models})
}

func (a *chatAPI) publishDeleted(evt protocol.ChannelDeleted) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishJSON(protocol.SubjectChannelDeleted, evt); err != nil {
		a.logger.Warn("failed to publish channel deletion", slogError(err))
	}
}

type sessionKey struct{}

// withSession issues a session cookie when the request has none and makes
// the id visible to the handler serving the same request.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			sessionID = c.Value
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sessionID)))
	})
}

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := errorsx.HTTPStatus(err)
	detail := errorsx.Message(err)
	var classified *errorsx.Error
	if !errors.As(err, &classified) {
		detail = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
