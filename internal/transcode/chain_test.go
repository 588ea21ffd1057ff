package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"github.com/loqalabs/loqa-chat/internal/workerpool"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.TranscodeConfig {
	return config.TranscodeConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe", SampleRate: 16000, Channels: 1}
}

func writeWav(t *testing.T, path string, sampleRate, channels int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, sampleRate/10*channels),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

type fakeRunner struct {
	calls [][]string
	run   func(argv []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, argv []string) ([]byte, error) {
	f.calls = append(f.calls, append([]string(nil), argv...))
	return f.run(argv)
}

func isRepair(argv []string) bool   { return slices.Contains(argv, "copy") }
func isProbe(argv []string) bool    { return argv[0] == "ffprobe" }
func isFallback(argv []string) bool { return slices.Contains(argv, "+genpts") }

func newPaths(t *testing.T) Paths {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.webm")
	if err := os.WriteFile(in, []byte("webm"), 0o644); err != nil {
		t.Fatal(err)
	}
	return Paths{Input: in, Repaired: filepath.Join(dir, "in_repaired.webm"), Output: filepath.Join(dir, "in.wav")}
}

func TestCanonicalizePrimarySucceeds(t *testing.T) {
	p := newPaths(t)
	runner := &fakeRunner{run: func(argv []string) ([]byte, error) {
		switch {
		case isRepair(argv):
			return nil, errors.New("exit status 1")
		case isProbe(argv):
			return []byte(`{"streams":[{"index":0,"codec_name":"opus","codec_type":"audio"}]}`), nil
		default:
			writeWav(t, argv[len(argv)-1], 16000, 1)
			return nil, nil
		}
	}}
	chain, err := NewChain(testConfig(), runner, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if err := chain.Canonicalize(context.Background(), p); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected repair, probe, primary; got %d calls", len(runner.calls))
	}
	primary := runner.calls[2]
	if primary[2] != p.Input {
		t.Fatalf("primary should read the original input when repair fails, got %v", primary)
	}
	if !slices.Contains(primary, "pcm_s16le") || !slices.Contains(primary, "16000") {
		t.Fatalf("unexpected primary args %v", primary)
	}
}

func TestCanonicalizeUsesRepairedContainer(t *testing.T) {
	p := newPaths(t)
	runner := &fakeRunner{run: func(argv []string) ([]byte, error) {
		switch {
		case isRepair(argv):
			return nil, os.WriteFile(argv[len(argv)-1], []byte("repaired"), 0o644)
		case isProbe(argv):
			return nil, errors.New("probe failed")
		default:
			writeWav(t, argv[len(argv)-1], 16000, 1)
			return nil, nil
		}
	}}
	chain, err := NewChain(testConfig(), runner, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if err := chain.Canonicalize(context.Background(), p); err != nil {
		t.Fatalf("probe failure must not gate conversion: %v", err)
	}
	last := runner.calls[len(runner.calls)-1]
	if last[2] != p.Repaired {
		t.Fatalf("expected repaired input, got %v", last)
	}
}

func TestCanonicalizeFallsBack(t *testing.T) {
	p := newPaths(t)
	runner := &fakeRunner{run: func(argv []string) ([]byte, error) {
		switch {
		case isRepair(argv), isProbe(argv):
			return nil, errors.New("exit status 1")
		case isFallback(argv):
			writeWav(t, argv[len(argv)-1], 16000, 1)
			return nil, nil
		default:
			return nil, &CommandError{Command: "ffmpeg", Err: errors.New("exit status 1"), Stderr: "EBML header parsing failed"}
		}
	}}
	chain, err := NewChain(testConfig(), runner, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if err := chain.Canonicalize(context.Background(), p); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if !isFallback(runner.calls[len(runner.calls)-1]) {
		t.Fatal("expected last call to be the fallback conversion")
	}
}

func TestCanonicalizeFallsBackOnWrongFormat(t *testing.T) {
	p := newPaths(t)
	runner := &fakeRunner{run: func(argv []string) ([]byte, error) {
		switch {
		case isRepair(argv), isProbe(argv):
			return nil, errors.New("exit status 1")
		case isFallback(argv):
			writeWav(t, argv[len(argv)-1], 16000, 1)
		default:
			writeWav(t, argv[len(argv)-1], 44100, 2)
		}
		return nil, nil
	}}
	chain, err := NewChain(testConfig(), runner, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if err := chain.Canonicalize(context.Background(), p); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
}

func TestCanonicalizeBothAttemptsFail(t *testing.T) {
	p := newPaths(t)
	runner := &fakeRunner{run: func([]string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}}
	chain, err := NewChain(testConfig(), runner, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	err = chain.Canonicalize(context.Background(), p)
	if !errorsx.Is(err, errorsx.KindTranscode) {
		t.Fatalf("expected transcode error, got %v", err)
	}
	if errorsx.Message(err) != MessageInvalidAudio {
		t.Fatalf("unexpected message %q", errorsx.Message(err))
	}
	// repair + probe + primary + fallback; no further retries
	if len(runner.calls) != 4 {
		t.Fatalf("expected 4 invocations, got %d", len(runner.calls))
	}
}

func TestPooledRunnerDelegates(t *testing.T) {
	inner := &fakeRunner{run: func([]string) ([]byte, error) { return []byte("ok"), nil }}
	r := NewPooledRunner(inner, workerpool.New(1))
	out, err := r.Run(context.Background(), []string{"ffprobe"})
	if err != nil || string(out) != "ok" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestParseCommand(t *testing.T) {
	args, err := ParseCommand(`ffmpeg -hide_banner -loglevel "error"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(args) != 4 || args[3] != "error" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := ParseCommand("  "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestVerifyCanonicalRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyCanonical(path, 16000, 1); err == nil {
		t.Fatal("expected error")
	}
}
