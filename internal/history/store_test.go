package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "data", "history.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleHistory() []protocol.ChatMessage {
	return []protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: "be brief"},
		{Role: protocol.RoleUser, Content: "Hello"},
		{Role: protocol.RoleAI, Content: "Hi there", AudioURL: "/static/audio/audio-1.mp3"},
	}
}

func TestAppendAndLoad(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{})
	ctx := context.Background()

	if _, err := s.CreateChannel(ctx, "sess", "chan", "Hello"); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := s.Append(ctx, "sess", "chan", sampleHistory()); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Load(ctx, "sess", "chan", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 || got[2].Content != "Hi there" || got[2].AudioURL == "" || got[2].Role != protocol.RoleAI {
		t.Fatalf("unexpected history %+v", got)
	}

	rev, err := s.Load(ctx, "sess", "chan", true)
	if err != nil {
		t.Fatalf("load reversed: %v", err)
	}
	if rev[0].Role != protocol.RoleAI || rev[2].Role != protocol.RoleSystem {
		t.Fatalf("expected newest first, got %+v", rev)
	}
}

func TestAppendReplacesSnapshot(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{})
	ctx := context.Background()

	full := sampleHistory()
	if err := s.Append(ctx, "sess", "chan", full); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "sess", "chan", full[:1]); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Load(ctx, "sess", "chan", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected snapshot of 1 message, got %d", len(got))
	}
	ok, err := s.ChannelExists(ctx, "sess", "chan")
	if err != nil || !ok {
		t.Fatalf("append should create the channel row, exists=%v err=%v", ok, err)
	}
}

func TestLoadUnknownChannelIsEmpty(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{})
	got, err := s.Load(context.Background(), "sess", "missing", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func TestChannelsAreScopedToSession(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := s.CreateChannel(ctx, "a", "c1", "first"); err != nil {
		t.Fatal(err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := s.CreateChannel(ctx, "a", "c2", "second"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateChannel(ctx, "b", "c3", "other"); err != nil {
		t.Fatal(err)
	}

	channels, err := s.Channels(ctx, "a")
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if len(channels) != 2 || channels[0].ID != "c2" || channels[1].Title != "first" {
		t.Fatalf("unexpected channels %+v", channels)
	}
	if ok, _ := s.ChannelExists(ctx, "b", "c1"); ok {
		t.Fatal("channel must not be visible from another session")
	}
}

func TestDeleteChannelAndAll(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{})
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := s.Append(ctx, "sess", id, sampleHistory()); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := s.DeleteChannel(ctx, "sess", "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.Load(ctx, "sess", "c1", false); len(got) != 0 {
		t.Fatalf("messages should be removed with the channel, got %d", len(got))
	}
	if err := s.DeleteChannel(ctx, "sess", "c1"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := s.DeleteAllChannels(ctx, "sess")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted channels, got %d", n)
	}
	channels, _ := s.Channels(ctx, "sess")
	if len(channels) != 0 {
		t.Fatalf("expected no channels, got %+v", channels)
	}
}

func TestPruneByDays(t *testing.T) {
	s := openTemp(t, config.HistoryConfig{RetentionDays: 1})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, "sess", "old", sampleHistory()); err != nil {
		t.Fatal(err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, "sess", "new", sampleHistory()); err != nil {
		t.Fatal(err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	channels, err := s.Channels(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 1 || channels[0].ID != "new" {
		t.Fatalf("expected only the new channel, got %+v", channels)
	}
}

func TestOpenEphemeral(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.Append(ctx, "sess", "chan", sampleHistory()); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Load(ctx, "sess", "chan", false)
	if err != nil || len(got) != 3 {
		t.Fatalf("expected in-memory history to persist across calls, got %d err=%v", len(got), err)
	}
}
