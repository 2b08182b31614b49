//go:build windows

package console

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func pipeSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGINT delivery to another console group; terminate instead.
func interruptGroup(pid int) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func isExecFormat(err error) bool {
	return errors.Is(err, windows.ERROR_BAD_EXE_FORMAT)
}

func isTerminalReadErr(error) bool { return false }

func signalOf(*exec.ExitError) (int, bool) { return 0, false }
