//go:build !windows

package console

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// pipeSysProcAttr puts the child in its own process group so an interrupt
// reaches everything it spawned.
func pipeSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// ptySysProcAttr makes the child a session leader with the pty slave (fd 0)
// as its controlling terminal.
func ptySysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0}
}

func interruptGroup(pid int) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	if err := unix.Kill(-pid, unix.SIGINT); err != nil {
		// not a group leader (or already reaped group); fall back to the pid itself
		return unix.Kill(pid, unix.SIGINT)
	}
	return nil
}

func isExecFormat(err error) bool {
	return errors.Is(err, unix.ENOEXEC)
}

// isTerminalReadErr reports read errors that mean the other side is gone.
// A pty master returns EIO once the last slave descriptor is closed.
func isTerminalReadErr(err error) bool {
	return errors.Is(err, unix.EIO)
}

func signalOf(ee *exec.ExitError) (int, bool) {
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}
