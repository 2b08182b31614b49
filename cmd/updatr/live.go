package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/internal/events"
	"github.com/loykin/updatr/internal/output"
)

// live runs fn while echoing console output to the terminal. Lines read from
// stdin go to the running child. The first interrupt signal is forwarded to
// the child; a second one cancels fn's context.
func (c *command) live(ctx context.Context, ctl *controller.Controller, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := ctl.Broker().SubscribeQueued()
	defer sub.Close()
	r := output.NewSpanRenderer(c.ui.Out, c.ui.Plain)

	sigs, stop := c.signals(os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopResize := watchResize(ctl)
	defer stopResize()
	go c.relayInput(ctx, ctl)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()

	interrupted := false
	for {
		select {
		case m := <-sub.C:
			c.show(r, m)
		case <-sigs:
			if interrupted {
				c.ui.Warning("aborting")
				cancel()
				continue
			}
			interrupted = true
			if err := ctl.Interrupt(); err != nil {
				cancel()
			}
		case <-done:
			c.drain(r, sub)
			return
		}
	}
}

// drain prints everything published before the operation returned.
func (c *command) drain(r *output.SpanRenderer, sub *events.Subscription) {
	sub.Finish()
	for m := range sub.C {
		c.show(r, m)
	}
}

func (c *command) show(r *output.SpanRenderer, m events.Message) {
	switch m := m.(type) {
	case events.OutputLine:
		c.ui.Spans(r, m.Spans)
	case events.OperationStarted:
		c.ui.VerboseLog("%s started", m.Name)
	}
}

// relayInput forwards stdin lines to the child until ctx is done.
func (c *command) relayInput(ctx context.Context, ctl *controller.Controller) {
	lines := c.inputLines()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !waitRunning(ctx, ctl) {
				return
			}
			if err := ctl.Send(line + "\n"); err != nil {
				slog.Debug("stdin line not delivered", "error", err)
			}
		}
	}
}

// waitRunning holds typed-ahead input until a child is there to read it.
func waitRunning(ctx context.Context, ctl *controller.Controller) bool {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if pid, _ := ctl.Running(); pid != 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

// stdin cannot be unblocked, so its reader goroutine is shared by every
// live session of the process.
var (
	stdinOnce  sync.Once
	stdinLines chan string
)

func (c *command) inputLines() <-chan string {
	if c.stdin != os.Stdin {
		return scanLines(c.stdin)
	}
	stdinOnce.Do(func() { stdinLines = scanLines(os.Stdin) })
	return stdinLines
}

func scanLines(r io.Reader) chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// follow prints status changes and new activity until a signal arrives or
// ctx is done.
func (c *command) follow(ctx context.Context, sub *events.Subscription, sigs <-chan os.Signal) error {
	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigs:
			return nil
		case m, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch m := m.(type) {
			case events.StatusReady:
				line := output.StatusLine(m.Status)
				if line != last {
					_, _ = fmt.Fprintf(c.ui.Out, "%s  %s\n", m.Status.CheckedAt.Format("15:04:05"), line)
					last = line
				}
			case events.ActivityAdded:
				c.ui.Info("%s", m.Entry.Summary)
			}
		}
	}
}
