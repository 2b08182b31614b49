//go:build windows

package console

import (
	"errors"
	"os"
)

var errPTYUnsupported = errors.New("pseudo-terminals are not supported on windows")

func defaultOpenPTY() (*os.File, *os.File, error) { return nil, nil, errPTYUnsupported }

// startPTY is never reached on windows because defaultOpenPTY always fails;
// an injected opener still gets a pipe-backed child.
func startPTY(spec Spec, argv []string, master, tty *os.File, _, _ uint16) (Channel, error) {
	_ = master.Close()
	_ = tty.Close()
	return startPipe(spec, argv)
}
