package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/updatr/internal/ansi"
	"github.com/loykin/updatr/internal/metrics"
)

// DefaultDrainGrace bounds how long Run waits for output to reach EOF after
// the child exited. Grandchildren that inherited the output keep it open.
const DefaultDrainGrace = 2 * time.Second

// Sink receives output as it is produced. raw is the chunk exactly as the
// child wrote it; spans is the same text with escape sequences resolved and
// may be empty while a split sequence is pending.
type Sink interface {
	Output(raw string, spans []ansi.Span)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(raw string, spans []ansi.Span)

func (f SinkFunc) Output(raw string, spans []ansi.Span) { f(raw, spans) }

// Result summarizes a finished Run.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Kind     string        `json:"kind"`
	Pid      int           `json:"pid"`
	Duration time.Duration `json:"duration"`
}

// Console owns at most one running child and routes input to it.
type Console struct {
	spawner    *Spawner
	logger     *slog.Logger
	drainGrace time.Duration

	mu         sync.Mutex
	cur        Channel
	transcript io.Writer
}

// New returns a Console that starts children with sp.
func New(sp *Spawner, logger *slog.Logger) *Console {
	if sp == nil {
		sp = NewSpawner(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{spawner: sp, logger: logger, drainGrace: DefaultDrainGrace}
}

// SetTranscript makes every later run also write its output, without escape
// sequences, to w. A nil w disables the transcript.
func (c *Console) SetTranscript(w io.Writer) {
	c.mu.Lock()
	c.transcript = w
	c.mu.Unlock()
}

// SetDrainGrace overrides DefaultDrainGrace.
func (c *Console) SetDrainGrace(d time.Duration) {
	c.mu.Lock()
	c.drainGrace = d
	c.mu.Unlock()
}

// Run starts spec, streams its output to sink and returns once the child has
// exited and its output is drained. Cancelling ctx interrupts the child; Run
// still waits for it to exit.
func (c *Console) Run(ctx context.Context, spec Spec, sink Sink) (Result, error) {
	ch, err := c.spawner.Spawn(ctx, spec)
	if err != nil {
		c.logger.Error("spawn failed", "cmd", spec.Argv, "error", err)
		return Result{ExitCode: -1}, err
	}
	c.adopt(ch)
	defer c.release(ch)

	c.mu.Lock()
	transcript, grace := c.transcript, c.drainGrace
	c.mu.Unlock()

	start := time.Now()
	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		parser := ansi.NewParser()
		deliver := func(raw string, spans []ansi.Span) {
			if transcript != nil && len(spans) > 0 {
				_, _ = io.WriteString(transcript, ansi.Plain(spans))
			}
			if sink != nil {
				sink.Output(raw, spans)
			}
		}
		if err := Stream(ch, func(chunk string) { deliver(chunk, parser.Feed(chunk)) }); err != nil {
			c.logger.Debug("output stream ended with error", "pid", ch.Pid(), "error", err)
		}
		if rest := parser.Flush(); len(rest) > 0 {
			deliver(ansi.Plain(rest), rest)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		err := ch.Interrupt()
		c.logger.Info("interrupting cancelled process", "pid", ch.Pid(), "error", err)
	})
	code, werr := ch.Wait()
	stop()

	select {
	case <-streamed:
	case <-time.After(grace):
		c.logger.Warn("output still open after exit, closing", "pid", ch.Pid())
	}
	_ = ch.Close()
	select {
	case <-streamed:
	case <-time.After(grace):
		c.logger.Warn("output reader did not stop after close", "pid", ch.Pid())
	}

	res := Result{ExitCode: code, Kind: ch.Kind(), Pid: ch.Pid(), Duration: time.Since(start)}
	metrics.ObserveExit(res.Kind, code, res.Duration.Seconds())
	if werr != nil {
		c.logger.Error("wait failed", "pid", res.Pid, "error", werr)
		return res, fmt.Errorf("wait pid %d: %w", res.Pid, werr)
	}
	c.logger.Info("process exited", "pid", res.Pid, "kind", res.Kind, "code", code, "duration", res.Duration)
	return res, nil
}

// adopt makes ch the current child. A previous child that is somehow still
// registered is interrupted so it cannot outlive its console slot unnoticed.
func (c *Console) adopt(ch Channel) {
	c.mu.Lock()
	prev := c.cur
	c.cur = ch
	c.mu.Unlock()
	if prev != nil {
		err := prev.Interrupt()
		c.logger.Warn("superseding running process", "pid", prev.Pid(), "new_pid", ch.Pid(), "error", err)
	}
}

func (c *Console) release(ch Channel) {
	c.mu.Lock()
	if c.cur == ch {
		c.cur = nil
	}
	c.mu.Unlock()
}

func (c *Console) current() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Send writes text verbatim to the running child's input.
func (c *Console) Send(text string) error {
	ch := c.current()
	if ch == nil {
		c.logger.Warn("input dropped, no running process", "bytes", len(text))
		return ErrNoProcess
	}
	if _, err := ch.Write([]byte(text)); err != nil {
		c.logger.Warn("input write failed", "pid", ch.Pid(), "error", err)
		return fmt.Errorf("send to pid %d: %w", ch.Pid(), err)
	}
	c.logger.Debug("input sent", "pid", ch.Pid(), "bytes", len(text))
	return nil
}

// Interrupt sends SIGINT to the running child's process group.
func (c *Console) Interrupt() error {
	ch := c.current()
	if ch == nil {
		c.logger.Info("interrupt requested, no running process")
		return ErrNoProcess
	}
	err := ch.Interrupt()
	c.logger.Info("interrupt sent", "pid", ch.Pid(), "kind", ch.Kind(), "error", err)
	return err
}

// Resize changes the window size of a pty child. Pipe children ignore it.
func (c *Console) Resize(rows, cols uint16) error {
	ch := c.current()
	if ch == nil {
		return ErrNoProcess
	}
	if r, ok := ch.(interface{ Resize(rows, cols uint16) error }); ok {
		return r.Resize(rows, cols)
	}
	return nil
}

// Running reports whether a child is currently registered.
func (c *Console) Running() bool { return c.current() != nil }

// Current returns the pid and channel kind of the running child.
func (c *Console) Current() (pid int, kind string) {
	ch := c.current()
	if ch == nil {
		return 0, ""
	}
	return ch.Pid(), ch.Kind()
}

// Usage samples CPU and memory of the running child.
func (c *Console) Usage() (*metrics.Usage, error) {
	ch := c.current()
	if ch == nil {
		return nil, ErrNoProcess
	}
	return metrics.SampleProcess(ch.Pid())
}
