package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/workerpool"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSynth struct {
	req   SynthRequest
	calls int
	write []byte
	err   error
}

func (r *recordingSynth) Synthesize(_ context.Context, req SynthRequest) error {
	r.req = req
	r.calls++
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(req.OutputPath, r.write, 0o644)
}

func newService(t *testing.T, synth Synthesizer) (*Service, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "static", "audio")
	cfg := config.Default().TTS
	cfg.AudioDir = dir
	return NewService(OptionsFromConfig(cfg), synth, workerpool.New(1), newLogger()), dir
}

func TestSanitizeIsIdempotentOnCleanText(t *testing.T) {
	clean := "Hello, world! It's 42 - ok? Ça va. Привет 你好"
	if got := Sanitize(clean); got != clean {
		t.Fatalf("clean text changed: %q", got)
	}
	if got := Sanitize(Sanitize("a*b#c")); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestSanitizeStripsSymbols(t *testing.T) {
	got := Sanitize("**Bold** _text_ (with) [links] & emoji 🎉: done; $5")
	want := "Bold text with links  emoji  done 5"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestVoiceTable(t *testing.T) {
	table := NewVoiceTable(config.DefaultVoices(), "en-US-AriaNeural")
	if v := table.Voice("xx"); v != "en-US-AriaNeural" {
		t.Fatalf("unmapped code should fall back, got %q", v)
	}
	if v := table.Voice("ja"); v != "ja-JP-NanamiNeural" {
		t.Fatalf("unexpected ja voice %q", v)
	}
	if v := table.Voice(""); v != "en-US-AriaNeural" {
		t.Fatalf("empty code should fall back, got %q", v)
	}
}

func TestSynthesizeLengthBoundary(t *testing.T) {
	synth := &recordingSynth{write: []byte("mp3")}
	svc, _ := newService(t, synth)

	_, err := svc.Synthesize(context.Background(), "H*i", "en", "req-short")
	if !errorsx.Is(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error for two characters, got %v", err)
	}
	if synth.calls != 0 {
		t.Fatal("backend must not be called for invalid text")
	}

	// "Hi!" sanitizes to three characters
	if _, err := svc.Synthesize(context.Background(), "Hi!", "en", "req-three"); err != nil {
		t.Fatalf("three characters should succeed: %v", err)
	}
}

func TestSynthesizeTooLong(t *testing.T) {
	svc, _ := newService(t, &recordingSynth{write: []byte("mp3")})
	_, err := svc.Synthesize(context.Background(), strings.Repeat("a", 10001), "en", "req-long")
	if !errorsx.Is(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSynthesizeWritesArtifact(t *testing.T) {
	synth := &recordingSynth{write: []byte("mp3")}
	svc, dir := newService(t, synth)

	art, err := svc.Synthesize(context.Background(), "Bonjour *tout* le monde", "fr", "abc")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if art.URL != "/static/audio/audio-abc.mp3" {
		t.Fatalf("unexpected url %q", art.URL)
	}
	if art.Path != filepath.Join(dir, "audio-abc.mp3") {
		t.Fatalf("unexpected path %q", art.Path)
	}
	if synth.req.Voice != "fr-FR-DeniseNeural" {
		t.Fatalf("unexpected voice %q", synth.req.Voice)
	}
	if synth.req.Text != "Bonjour tout le monde" {
		t.Fatalf("backend must receive sanitized text, got %q", synth.req.Text)
	}
}

func TestSynthesizeEmptyOutputIsSynthesisError(t *testing.T) {
	svc, dir := newService(t, &recordingSynth{write: nil})
	_, err := svc.Synthesize(context.Background(), "Hello there", "en", "empty")
	if !errorsx.Is(err, errorsx.KindSynthesis) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "audio-empty.mp3")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("empty artifact should be removed")
	}
}

func TestSynthesizeBackendFailure(t *testing.T) {
	svc, _ := newService(t, &recordingSynth{err: errors.New("NoAudioReceived")})
	_, err := svc.Synthesize(context.Background(), "Hello there", "en", "fail")
	if !errorsx.Is(err, errorsx.KindSynthesis) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
}

func TestMockSynthWritesAudio(t *testing.T) {
	svc, _ := newService(t, NewMockSynth())
	art, err := svc.Synthesize(context.Background(), "Hello there", "", "mock")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	info, err := os.Stat(art.Path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty artifact, err=%v", err)
	}
}
