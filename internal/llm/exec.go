package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-chat/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// execBackend runs a command that reads {"model","messages"} on stdin and
// writes one chunk per stdout line. Lines holding a JSON object or string are
// chunks; every other line is plain text and keeps its newline.
type execBackend struct {
	cmd []string
}

type execRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
}

func NewExecBackend(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (g *execBackend) StreamChat(ctx context.Context, model string, messages []protocol.ChatMessage, consumer func(json.RawMessage) error) error {
	payload := execRequest{Model: model}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: backendRole(m.Role), Content: m.Content})
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		raw := execChunk(line)
		if err := consumer(raw); err != nil {
			cancel()
			_ = cmd.Wait()
			return err
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return scanErr
}

func execChunk(line []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(line)
	if (trimmed[0] == '{' || trimmed[0] == '"') && json.Valid(trimmed) {
		return append(json.RawMessage(nil), trimmed...)
	}
	raw, _ := json.Marshal(string(line) + "\n")
	return raw
}
