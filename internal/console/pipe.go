package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// pipeChannel is a child with stdout and stderr merged into one pipe and a
// separate stdin pipe.
type pipeChannel struct {
	cmd *exec.Cmd
	out *os.File
	in  io.WriteCloser

	waitOnce sync.Once
	code     int
	waitErr  error

	mu     sync.Mutex
	closed bool
}

func startPipe(spec Spec, argv []string) (*pipeChannel, error) {
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = pipeSysProcAttr()

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	in, err := cmd.StdinPipe()
	if err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("input pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	// the child holds its own copy; keeping ours would prevent EOF
	_ = w.Close()
	return &pipeChannel{cmd: cmd, out: r, in: in}, nil
}

func (c *pipeChannel) Read(p []byte) (int, error) { return c.out.Read(p) }

func (c *pipeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}
	return c.in.Write(p)
}

func (c *pipeChannel) Interrupt() error { return interruptGroup(c.Pid()) }

func (c *pipeChannel) Wait() (int, error) {
	c.waitOnce.Do(func() {
		c.code, c.waitErr = exitCode(c.cmd.Wait())
	})
	return c.code, c.waitErr
}

func (c *pipeChannel) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *pipeChannel) Kind() string { return KindPipe }

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	errIn := c.in.Close()
	if errors.Is(errIn, os.ErrClosed) {
		errIn = nil
	}
	return errors.Join(errIn, c.out.Close())
}
