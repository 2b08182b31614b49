package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loykin/updatr/internal/metrics"
)

// Default window size handed to pty children when the caller has none.
const (
	DefaultRows = 40
	DefaultCols = 120
)

// Spawner starts children, preferring a pseudo-terminal and falling back to
// pipes, and retries through bash and sh when the target cannot be executed
// directly.
type Spawner struct {
	// OpenPTY allocates a master/slave pair. Nil uses the platform default.
	OpenPTY    func() (master, tty *os.File, err error)
	Rows, Cols uint16
	Logger     *slog.Logger
}

// NewSpawner returns a Spawner with the default pty opener and window size.
func NewSpawner(logger *slog.Logger) *Spawner {
	return &Spawner{Rows: DefaultRows, Cols: DefaultCols, Logger: logger}
}

type ptyUnavailableError struct{ err error }

func (e *ptyUnavailableError) Error() string { return "pty allocation failed: " + e.err.Error() }
func (e *ptyUnavailableError) Unwrap() error { return e.err }

func (s *Spawner) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Spawner) openPTY() (*os.File, *os.File, error) {
	if s.OpenPTY != nil {
		return s.OpenPTY()
	}
	return defaultOpenPTY()
}

// Spawn starts spec. A failed pty allocation is logged and degrades to pipes;
// the caller only ever sees the resulting Channel's Kind change.
func (s *Spawner) Spawn(ctx context.Context, spec Spec) (Channel, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrEmptyCommand
	}
	usePTY := spec.UsePTY
	var lastErr error
	for _, argv := range interpreterFallbacks(spec.Argv) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, err := s.attempt(spec, argv, usePTY)
		var pe *ptyUnavailableError
		if errors.As(err, &pe) {
			s.log().Warn("pty unavailable, falling back to pipes", "error", pe.err)
			metrics.IncPTYFallback()
			usePTY = false
			ch, err = s.attempt(spec, argv, false)
		}
		if err == nil {
			s.log().Info("process started",
				"pid", ch.Pid(), "kind", ch.Kind(), "cmd", strings.Join(argv, " "), "dir", spec.Dir)
			metrics.IncSpawn(ch.Kind())
			return ch, nil
		}
		lastErr = err
		if !isExecFormat(err) {
			metrics.IncSpawnFailure()
			return nil, fmt.Errorf("start %s: %w", argv[0], err)
		}
		s.log().Warn("exec format error, retrying through an interpreter",
			"cmd", strings.Join(argv, " "), "error", err)
	}
	metrics.IncSpawnFailure()
	return nil, fmt.Errorf("%w: %s: %w", ErrSpawnExhausted, spec.Argv[0], lastErr)
}

func (s *Spawner) attempt(spec Spec, argv []string, usePTY bool) (Channel, error) {
	if usePTY {
		master, tty, err := s.openPTY()
		if err != nil {
			return nil, &ptyUnavailableError{err: err}
		}
		ch, err := startPTY(spec, argv, master, tty, s.Rows, s.Cols)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	ch, err := startPipe(spec, argv)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// interpreterFallbacks lists argv as given, then run through bash, then sh.
func interpreterFallbacks(argv []string) [][]string {
	out := [][]string{argv}
	for _, sh := range []string{"bash", "sh"} {
		out = append(out, append([]string{sh}, argv...))
	}
	return out
}
