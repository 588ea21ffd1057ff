// Package transcode repairs browser-recorded audio containers and converts
// them into the canonical waveform (16kHz mono 16-bit PCM WAV) through a
// fixed sequence of ffmpeg/ffprobe invocations.
package transcode

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/errorsx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MessageInvalidAudio is reported when every conversion attempt failed.
const MessageInvalidAudio = "Invalid or corrupted audio file"

// Paths names the files one Canonicalize call may touch. The caller owns
// all of them and is responsible for removing them.
type Paths struct {
	Input    string
	Repaired string
	Output   string
}

type Chain struct {
	runner     Runner
	ffmpeg     []string
	ffprobe    []string
	sampleRate int
	channels   int
	logger     *slog.Logger

	fallbacks metric.Int64Counter
	failures  metric.Int64Counter
}

func NewChain(cfg config.TranscodeConfig, runner Runner, logger *slog.Logger) (*Chain, error) {
	ffmpeg, err := ParseCommand(cfg.FFmpeg)
	if err != nil {
		return nil, err
	}
	ffprobe, err := ParseCommand(cfg.FFprobe)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		runner:     runner,
		ffmpeg:     ffmpeg,
		ffprobe:    ffprobe,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		logger:     logger.With(slog.String("component", "transcode")),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-chat/transcode")
	if c.fallbacks, err = meter.Int64Counter("transcode.fallbacks"); err != nil {
		c.logger.Warn("failed to create fallback counter", slogError(err))
	}
	if c.failures, err = meter.Int64Counter("transcode.failures"); err != nil {
		c.logger.Warn("failed to create failure counter", slogError(err))
	}
	return c, nil
}

// Canonicalize writes the canonical waveform for p.Input to p.Output.
func (c *Chain) Canonicalize(ctx context.Context, p Paths) error {
	source := p.Input
	if c.repair(ctx, p.Input, p.Repaired) {
		source = p.Repaired
	}

	c.probe(ctx, source)

	err := c.convert(ctx, c.primaryArgs(source, p.Output), p.Output)
	if err == nil {
		c.logger.Info("file converted to wav", slog.String("path", p.Output))
		return nil
	}
	c.logger.Error("primary conversion failed", slogError(err))
	c.add(ctx, c.fallbacks)

	c.logger.Info("trying fallback conversion")
	if err := c.convert(ctx, c.fallbackArgs(source, p.Output), p.Output); err != nil {
		c.logger.Error("fallback conversion also failed", slogError(err))
		c.add(ctx, c.failures)
		return errorsx.Wrap(err, errorsx.KindTranscode, MessageInvalidAudio)
	}
	c.logger.Info("fallback conversion succeeded", slog.String("path", p.Output))
	return nil
}

// repair re-muxes the container without re-encoding. It reports whether a
// usable repaired file was produced; failures are not fatal.
func (c *Chain) repair(ctx context.Context, input, repaired string) bool {
	if repaired == "" {
		return false
	}
	argv := c.command(c.ffmpeg, "-i", input, "-c", "copy", "-y", repaired)
	if _, err := c.runner.Run(ctx, argv); err != nil {
		c.logger.Warn("container repair attempt failed", slogError(err))
	}
	info, err := os.Stat(repaired)
	if err != nil || info.Size() == 0 {
		return false
	}
	c.logger.Info("repaired audio container", slog.String("path", repaired))
	return true
}

type probeResult struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// probe logs the container's streams. Its outcome never gates conversion.
func (c *Chain) probe(ctx context.Context, input string) {
	argv := c.command(c.ffprobe,
		"-v", "error",
		"-show_entries", "stream=index,codec_name,codec_type",
		"-of", "json",
		input,
	)
	out, err := c.runner.Run(ctx, argv)
	if err != nil {
		c.logger.Warn("ffprobe failed", slogError(err))
		return
	}
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		c.logger.Warn("ffprobe output not understood", slogError(err))
		return
	}
	for _, s := range res.Streams {
		c.logger.Info("ffprobe stream",
			slog.Int("index", s.Index),
			slog.String("codec_name", s.CodecName),
			slog.String("codec_type", s.CodecType))
	}
}

func (c *Chain) convert(ctx context.Context, argv []string, output string) error {
	if _, err := c.runner.Run(ctx, argv); err != nil {
		return err
	}
	return VerifyCanonical(output, c.sampleRate, c.channels)
}

func (c *Chain) primaryArgs(input, output string) []string {
	return c.command(c.ffmpeg,
		"-i", input,
		"-ar", strconv.Itoa(c.sampleRate),
		"-ac", strconv.Itoa(c.channels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-y", output,
	)
}

// fallbackArgs regenerates missing timestamps and skips unknown streams.
func (c *Chain) fallbackArgs(input, output string) []string {
	return c.command(c.ffmpeg,
		"-i", input,
		"-ar", strconv.Itoa(c.sampleRate),
		"-ac", strconv.Itoa(c.channels),
		"-acodec", "pcm_s16le",
		"-y",
		"-f", "wav",
		"-fflags", "+genpts",
		"-ignore_unknown",
		output,
	)
}

func (c *Chain) command(base []string, args ...string) []string {
	argv := make([]string, 0, len(base)+len(args))
	argv = append(argv, base...)
	return append(argv, args...)
}

func (c *Chain) add(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
