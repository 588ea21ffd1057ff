package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-chat/internal/workerpool"
	"github.com/mattn/go-shellwords"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// CommandError reports a non-zero exit together with the tool's stderr.
type CommandError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

type execRunner struct{}

func NewExecRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{Command: argv[0], Err: err, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

type pooledRunner struct {
	next Runner
	pool *workerpool.Pool
}

// NewPooledRunner runs every invocation of next on pool.
func NewPooledRunner(next Runner, pool *workerpool.Pool) Runner {
	if pool == nil {
		return next
	}
	return &pooledRunner{next: next, pool: pool}
}

func (r *pooledRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	var out []byte
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		var runErr error
		out, runErr = r.next.Run(ctx, argv)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseCommand splits a configured command line such as "ffmpeg -hide_banner".
func ParseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command empty")
	}
	return args, nil
}
