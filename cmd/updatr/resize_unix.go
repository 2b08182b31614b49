//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/updatr/internal/controller"
)

// watchResize forwards terminal window changes to the running pty child.
func watchResize(ctl *controller.Controller) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if rows, cols, ok := terminalSize(); ok {
					_ = ctl.Resize(rows, cols)
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
