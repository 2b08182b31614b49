//go:build !windows

package console

import (
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

func defaultOpenPTY() (*os.File, *os.File, error) { return pty.Open() }

// ptyChannel is a child whose stdin, stdout and stderr are the slave side of
// a pseudo-terminal; the parent talks to it through the master.
type ptyChannel struct {
	cmd    *exec.Cmd
	master *os.File

	waitOnce sync.Once
	code     int
	waitErr  error

	mu     sync.Mutex
	closed bool
}

func startPTY(spec Spec, argv []string, master, tty *os.File, rows, cols uint16) (*ptyChannel, error) {
	if rows > 0 && cols > 0 {
		_ = pty.Setsize(master, &pty.Winsize{Rows: rows, Cols: cols})
	}
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = ptySysProcAttr()
	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = tty.Close()
		return nil, err
	}
	// once the child owns the slave, the master sees EIO when it goes away
	_ = tty.Close()
	return &ptyChannel{cmd: cmd, master: master}, nil
}

func (c *ptyChannel) Read(p []byte) (int, error) { return c.master.Read(p) }

func (c *ptyChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}
	return c.master.Write(p)
}

func (c *ptyChannel) Interrupt() error { return interruptGroup(c.Pid()) }

func (c *ptyChannel) Wait() (int, error) {
	c.waitOnce.Do(func() {
		c.code, c.waitErr = exitCode(c.cmd.Wait())
	})
	return c.code, c.waitErr
}

func (c *ptyChannel) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *ptyChannel) Kind() string { return KindPTY }

func (c *ptyChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.master.Close()
}

// Resize updates the terminal window size seen by the child.
func (c *ptyChannel) Resize(rows, cols uint16) error {
	return pty.Setsize(c.master, &pty.Winsize{Rows: rows, Cols: cols})
}
