// Package notify posts desktop notifications when long operations finish.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

const appName = "updatr"

// Notifier delivers a short title/body message to the user.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) {}

// Desktop shells out to notify-send. Failures are logged at debug level only;
// a missing notification daemon must never fail an update.
type Desktop struct {
	Binary  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{Binary: "notify-send", Timeout: 5 * time.Second, Logger: logger}
}

// Args returns the notify-send argument vector.
func Args(title, body string) []string {
	return []string{"-a", appName, title, body}
}

func (d *Desktop) Notify(ctx context.Context, title, body string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	bin := d.Binary
	if bin == "" {
		bin = "notify-send"
	}
	// #nosec G204
	out, err := exec.CommandContext(ctx, bin, Args(title, body)...).CombinedOutput()
	if err != nil {
		logger.Debug("notification not delivered", "title", title, "error", err, "output", string(out))
	}
}

// Recorder keeps every notification; useful in tests and headless runs.
type Recorder struct {
	Sent []Message
}

type Message struct {
	Title string
	Body  string
}

func (r *Recorder) Notify(_ context.Context, title, body string) {
	r.Sent = append(r.Sent, Message{Title: title, Body: body})
}
