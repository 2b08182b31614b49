package gitprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds each git status query.
const DefaultTimeout = 15 * time.Second

// Runner executes git subcommands inside a repository directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)
}

// CommandError describes a git invocation that failed to run or exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs the real git binary. A zero Timeout disables the per-call deadline.
type ExecRunner struct {
	Binary  string
	Timeout time.Duration
}

// NewExecRunner returns a runner using "git" from PATH with DefaultTimeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Binary: "git", Timeout: DefaultTimeout}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	// #nosec G204
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	// never block on credential prompts during background probes
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		ce := &CommandError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			ce.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return stdout.String(), stderr.String(), ce
	}
	return stdout.String(), stderr.String(), nil
}
