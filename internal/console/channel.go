// Package console runs one interactive child process at a time, behind a
// pseudo-terminal when available or plain pipes otherwise, and streams its
// output as styled spans while relaying input and interrupts back to it.
package console

import (
	"errors"
	"io"
)

const (
	KindPTY  = "pty"
	KindPipe = "pipe"
)

var (
	// ErrSpawnExhausted is returned when the command and every interpreter
	// fallback failed with an exec-format error.
	ErrSpawnExhausted = errors.New("no way to execute command")
	// ErrNoProcess is returned by Send and Interrupt when nothing is running.
	ErrNoProcess = errors.New("no running process")
	// ErrEmptyCommand is returned when Spec.Argv is empty.
	ErrEmptyCommand = errors.New("empty command")
)

// Channel is a running child process together with its I/O channel.
// Reads return the merged output of the child; writes go to its input.
type Channel interface {
	io.Reader
	Write(p []byte) (int, error)
	// Interrupt delivers SIGINT to the child's process group.
	Interrupt() error
	// Wait blocks until the child exits and returns its exit code.
	// A child killed by a signal reports 128+signal.
	Wait() (int, error)
	Pid() int
	Kind() string
	// Close releases the output and input descriptors. It does not kill the child.
	Close() error
}

// Spec describes one command to run.
type Spec struct {
	Argv   []string
	Dir    string
	UsePTY bool
	// Env is the full child environment; nil inherits the current process env.
	Env []string
}
