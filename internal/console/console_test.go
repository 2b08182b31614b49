//go:build !windows

package console

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"

	"github.com/loykin/updatr/internal/ansi"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type collector struct {
	mu    sync.Mutex
	raw   strings.Builder
	spans []ansi.Span
}

func (c *collector) Output(raw string, spans []ansi.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.WriteString(raw)
	c.spans = append(c.spans, spans...)
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ansi.Plain(c.spans)
}

func newTestConsole(t *testing.T, sp *Spawner) (*Console, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if sp == nil {
		sp = NewSpawner(logger)
	}
	sp.Logger = logger
	c := New(sp, logger)
	c.SetDrainGrace(500 * time.Millisecond)
	return c, logs
}

func failingPTY() (*os.File, *os.File, error) {
	return nil, nil, errors.New("out of ptys")
}

func waitRunning(t *testing.T, c *Console) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !c.Running() {
		if time.Now().After(deadline) {
			t.Fatal("process did not start in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_PipeStreamsStyledOutput(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	col := &collector{}
	res, err := c.Run(context.Background(), Spec{
		Argv: []string{"sh", "-c", `printf '\033[31mred\033[0m plain\n'`},
	}, col)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.Kind != KindPipe {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := col.text(); got != "red plain\n" {
		t.Fatalf("text: %q", got)
	}
	if col.spans[0].Style.FG != "#ff5555" {
		t.Fatalf("first span should be red: %#v", col.spans[0])
	}
	if !strings.Contains(col.raw.String(), "\x1b[31m") {
		t.Fatalf("raw output must keep escapes: %q", col.raw.String())
	}
	if c.Running() {
		t.Fatal("console must be idle after Run returns")
	}
}

func TestRun_ExitCode(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	res, err := c.Run(context.Background(), Spec{Argv: []string{"sh", "-c", "echo out; echo err >&2; exit 3"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code: %d", res.ExitCode)
	}
}

func TestRun_MergesStderr(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	col := &collector{}
	if _, err := c.Run(context.Background(), Spec{Argv: []string{"sh", "-c", "echo out; echo err >&2"}}, col); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := col.text(); !strings.Contains(got, "out\n") || !strings.Contains(got, "err\n") {
		t.Fatalf("missing merged output: %q", got)
	}
}

func TestRun_PTYAllocationFailureFallsBackToPipes(t *testing.T) {
	sp := &Spawner{OpenPTY: failingPTY}
	c, logs := newTestConsole(t, sp)
	col := &collector{}
	res, err := c.Run(context.Background(), Spec{Argv: []string{"echo", "hi"}, UsePTY: true}, col)
	if err != nil {
		t.Fatalf("fallback must be transparent, got %v", err)
	}
	if res.Kind != KindPipe || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if col.text() != "hi\n" {
		t.Fatalf("output: %q", col.text())
	}
	if !strings.Contains(logs.String(), "pty unavailable") || !strings.Contains(logs.String(), "out of ptys") {
		t.Fatalf("expected a warning log line, got:\n%s", logs.String())
	}
}

func TestRun_RealPTY(t *testing.T) {
	m, s, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	_ = m.Close()
	_ = s.Close()

	c, _ := newTestConsole(t, nil)
	col := &collector{}
	res, err := c.Run(context.Background(), Spec{
		Argv:   []string{"sh", "-c", "if [ -t 1 ]; then echo tty; else echo notty; fi"},
		UsePTY: true,
	}, col)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Kind != KindPTY {
		t.Fatalf("kind: %s", res.Kind)
	}
	// the line discipline turns \n into \r\n
	if !strings.Contains(col.text(), "tty\r\n") || strings.Contains(col.text(), "notty") {
		t.Fatalf("child did not see a terminal: %q", col.text())
	}
}

func TestRun_ScriptWithoutShebangRetriesThroughBash(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "setup")
	if err := os.WriteFile(script, []byte("echo from-script \"$1\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	c, logs := newTestConsole(t, nil)
	col := &collector{}
	res, err := c.Run(context.Background(), Spec{Argv: []string{"./setup", "x"}, Dir: dir}, col)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || col.text() != "from-script x\n" {
		t.Fatalf("unexpected: %+v %q", res, col.text())
	}
	if !strings.Contains(logs.String(), "exec format error") {
		t.Fatalf("retry not logged:\n%s", logs.String())
	}
}

func TestSpawn_ExhaustedAfterAllInterpreters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"target", "bash", "sh"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("echo nope\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// bash and sh on PATH are themselves shebang-less scripts
	t.Setenv("PATH", dir)
	sp := NewSpawner(slog.New(slog.NewTextHandler(&syncBuffer{}, nil)))
	_, err := sp.Spawn(context.Background(), Spec{Argv: []string{filepath.Join(dir, "target")}})
	if !errors.Is(err, ErrSpawnExhausted) {
		t.Fatalf("expected ErrSpawnExhausted, got %v", err)
	}
}

func TestSpawn_MissingBinaryDoesNotRetry(t *testing.T) {
	logs := &syncBuffer{}
	sp := NewSpawner(slog.New(slog.NewTextHandler(logs, nil)))
	_, err := sp.Spawn(context.Background(), Spec{Argv: []string{filepath.Join(t.TempDir(), "missing")}})
	if err == nil || errors.Is(err, ErrSpawnExhausted) {
		t.Fatalf("expected plain start error, got %v", err)
	}
	if strings.Contains(logs.String(), "exec format error") {
		t.Fatal("missing binary must not trigger interpreter fallback")
	}
}

func TestSpawn_EmptyCommand(t *testing.T) {
	if _, err := NewSpawner(nil).Spawn(context.Background(), Spec{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("got %v", err)
	}
}

func TestInterpreterFallbacksOrder(t *testing.T) {
	got := interpreterFallbacks([]string{"./setup", "install"})
	want := []string{"./setup install", "bash ./setup install", "sh ./setup install"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if strings.Join(got[i], " ") != want[i] {
			t.Fatalf("attempt %d = %v, want %s", i, got[i], want[i])
		}
	}
}

func TestSend_RelaysInput(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	col := &collector{}
	done := make(chan Result, 1)
	go func() {
		res, _ := c.Run(context.Background(), Spec{Argv: []string{"sh", "-c", `read line; echo "got:$line"`}}, col)
		done <- res
	}()
	waitRunning(t, c)
	if err := c.Send("yes\n"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case res := <-done:
		if res.ExitCode != 0 {
			t.Fatalf("exit: %d", res.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("child did not consume input")
	}
	if col.text() != "got:yes\n" {
		t.Fatalf("output: %q", col.text())
	}
}

func TestSendAndInterrupt_NoProcess(t *testing.T) {
	c, logs := newTestConsole(t, nil)
	if err := c.Send("x"); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("send: %v", err)
	}
	if err := c.Interrupt(); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("interrupt: %v", err)
	}
	if !strings.Contains(logs.String(), "no running process") {
		t.Fatalf("expected log line, got:\n%s", logs.String())
	}
}

func TestInterrupt_StopsChild(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	done := make(chan Result, 1)
	go func() {
		res, _ := c.Run(context.Background(), Spec{Argv: []string{"sleep", "30"}}, nil)
		done <- res
	}()
	waitRunning(t, c)
	if pid, kind := c.Current(); pid <= 0 || kind != KindPipe {
		t.Fatalf("current: %d %s", pid, kind)
	}
	if err := c.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	select {
	case res := <-done:
		if res.ExitCode != 130 {
			t.Fatalf("expected 128+SIGINT, got %d", res.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("child ignored interrupt")
	}
}

func TestRun_ContextCancelInterrupts(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := c.Run(ctx, Spec{Argv: []string{"sleep", "30"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 130 || time.Since(start) > 5*time.Second {
		t.Fatalf("cancel did not interrupt: %+v", res)
	}
}

func TestSend_AfterExitIsGraceful(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	if _, err := c.Run(context.Background(), Spec{Argv: []string{"true"}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Send("late\n"); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("got %v", err)
	}
}

func TestRun_Transcript(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	tr := &syncBuffer{}
	c.SetTranscript(tr)
	if _, err := c.Run(context.Background(), Spec{Argv: []string{"sh", "-c", `printf '\033[1mbold\033[0m\n'`}}, nil); err != nil {
		t.Fatal(err)
	}
	if tr.String() != "bold\n" {
		t.Fatalf("transcript: %q", tr.String())
	}
}

func TestUsage_NoProcess(t *testing.T) {
	c, _ := newTestConsole(t, nil)
	if _, err := c.Usage(); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("got %v", err)
	}
}
