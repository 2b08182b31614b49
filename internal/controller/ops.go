package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/updatr/internal/config"
	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/env"
	"github.com/loykin/updatr/internal/events"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/installer"
	"github.com/loykin/updatr/internal/logger"
)

const (
	OpUpdate  = installer.EventUpdate
	OpInstall = installer.EventInstall
	OpRun     = "run"
)

// begin marks name as the running operation or reports ErrBusy.
func (c *Controller) begin(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op != "" {
		return fmt.Errorf("%w: %s", ErrBusy, c.op)
	}
	c.op = name
	c.ops.Add(1)
	return nil
}

func (c *Controller) end(rep *installer.Report) {
	c.mu.Lock()
	c.op = ""
	if rep != nil {
		c.report = rep
	}
	c.mu.Unlock()
	c.ops.Done()
}

// childEnv composes the environment of console children from settings.
func childEnv(s config.Settings) ([]string, error) {
	extra, err := s.ChildEnv()
	if err != nil {
		return nil, fmt.Errorf("child environment: %w", err)
	}
	e := env.New().FromOS()
	if s.ForceColorEnv {
		e.Apply(env.ColorEnv())
	}
	return e.Merge(extra), nil
}

func (c *Controller) orchestrator(s config.Settings) (*installer.Orchestrator, error) {
	vars, err := childEnv(s)
	if err != nil {
		return nil, err
	}
	return &installer.Orchestrator{
		Git:         c.opGit,
		Console:     c.console,
		Log:         c.activity,
		Sink:        outputSink(c.broker),
		Mode:        s.InstallerMode,
		UsePTY:      s.UsePTY,
		Env:         vars,
		PostInstall: config.ExpandHome(s.PostInstallScript),
		Logger:      c.logger,
	}, nil
}

// transcript attaches a rotating transcript file for name when configured.
// The returned func detaches and closes it.
func (c *Controller) transcript(s config.Settings, name string) func() {
	w := logger.TranscriptConfig{Dir: config.ExpandHome(s.TranscriptDir)}.Writer(name)
	if w == nil {
		return func() {}
	}
	c.console.SetTranscript(w)
	return func() {
		c.console.SetTranscript(nil)
		_ = w.Close()
	}
}

// prepareUpdate claims the busy slot and checks that updates are pending.
func (c *Controller) prepareUpdate(ctx context.Context) (gitprobe.RepoStatus, *installer.Orchestrator, error) {
	if err := c.begin(OpUpdate); err != nil {
		return gitprobe.RepoStatus{}, nil, err
	}
	st := c.currentStatus(ctx)
	if !st.HasUpdates() {
		c.end(nil)
		return st, nil, ErrNoUpdates
	}
	o, err := c.orchestrator(c.Settings())
	if err != nil {
		c.end(nil)
		return st, nil, err
	}
	return st, o, nil
}

// Update pulls pending commits and runs the installer on the calling
// goroutine. It refuses with ErrBusy while another operation runs and with
// ErrNoUpdates when the last status has nothing to pull.
func (c *Controller) Update(ctx context.Context) (installer.Report, error) {
	st, o, err := c.prepareUpdate(ctx)
	if err != nil {
		return installer.Report{}, err
	}
	return c.runUpdate(ctx, st, o), nil
}

// UpdateAsync performs the same checks as Update, then runs it in the
// background bound to the controller lifetime.
func (c *Controller) UpdateAsync(ctx context.Context) error {
	st, o, err := c.prepareUpdate(ctx)
	if err != nil {
		return err
	}
	go c.runUpdate(c.ctx, st, o)
	return nil
}

func (c *Controller) runUpdate(ctx context.Context, st gitprobe.RepoStatus, o *installer.Orchestrator) installer.Report {
	var rep installer.Report
	defer func() { c.end(&rep) }()
	s := c.Settings()
	defer c.transcript(s, OpUpdate)()

	c.broker.Publish(events.OperationStarted{Name: OpUpdate})
	c.repo.Lock()
	rep = o.Update(ctx, st)
	c.repo.Unlock()
	c.finish(ctx, OpUpdate, rep)
	c.probe(ctx)
	return rep
}

func (c *Controller) prepareInstall() (*installer.Orchestrator, error) {
	if err := c.begin(OpInstall); err != nil {
		return nil, err
	}
	o, err := c.orchestrator(c.Settings())
	if err != nil {
		c.end(nil)
		return nil, err
	}
	return o, nil
}

// Install runs only the installer and post-install steps.
func (c *Controller) Install(ctx context.Context) (installer.Report, error) {
	o, err := c.prepareInstall()
	if err != nil {
		return installer.Report{}, err
	}
	return c.runInstall(ctx, o), nil
}

// InstallAsync starts Install in the background.
func (c *Controller) InstallAsync() error {
	o, err := c.prepareInstall()
	if err != nil {
		return err
	}
	go c.runInstall(c.ctx, o)
	return nil
}

func (c *Controller) runInstall(ctx context.Context, o *installer.Orchestrator) installer.Report {
	var rep installer.Report
	defer func() { c.end(&rep) }()
	s := c.Settings()
	defer c.transcript(s, OpInstall)()

	c.broker.Publish(events.OperationStarted{Name: OpInstall})
	c.repo.Lock()
	rep = o.Install(ctx, s.Repo())
	c.repo.Unlock()
	c.finish(ctx, OpInstall, rep)
	return rep
}

// finish records rep as the last report before announcing it, so observers
// of OperationFinished can read it back.
func (c *Controller) finish(ctx context.Context, name string, rep installer.Report) {
	c.mu.Lock()
	last := rep
	c.report = &last
	notifyOn, n := c.settings.SendNotifications, c.notifier
	c.mu.Unlock()
	c.broker.Publish(events.OperationFinished{Name: name, OK: rep.OK, Summary: rep.Summary()})
	if !notifyOn {
		return
	}
	title := "updatr: " + name + " finished"
	if !rep.OK {
		title = "updatr: " + name + " failed"
	}
	n.Notify(ctx, title, rep.Summary())
}

// Run executes argv in the console with the configured environment and
// streams its output through the broker. It holds the busy slot.
func (c *Controller) Run(ctx context.Context, dir string, argv []string) (console.Result, error) {
	if len(argv) == 0 {
		return console.Result{ExitCode: -1}, console.ErrEmptyCommand
	}
	if err := c.begin(OpRun); err != nil {
		return console.Result{ExitCode: -1}, err
	}
	defer c.end(nil)
	s := c.Settings()
	vars, err := childEnv(s)
	if err != nil {
		return console.Result{ExitCode: -1}, err
	}
	defer c.transcript(s, OpRun)()

	c.broker.Publish(events.OperationStarted{Name: OpRun})
	res, err := c.console.Run(ctx, console.Spec{Argv: argv, Dir: dir, UsePTY: s.UsePTY, Env: vars}, outputSink(c.broker))
	summary := fmt.Sprintf("exit %d", res.ExitCode)
	if err != nil {
		summary = err.Error()
	}
	c.activity.Add(OpRun, fmt.Sprintf("%s: %s", argv[0], summary), fmt.Sprint(argv))
	c.broker.Publish(events.OperationFinished{Name: OpRun, OK: err == nil && res.ExitCode == 0, Summary: summary})
	return res, err
}

// Start launches the periodic refresh loop. It probes once immediately, then
// every auto_refresh_seconds, skipping ticks while an operation runs. A zero
// interval leaves the loop off.
func (c *Controller) Start() bool {
	interval := c.Settings().RefreshInterval()
	if interval <= 0 {
		c.logger.Info("auto refresh disabled")
		return false
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopCancel != nil {
		return true
	}
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.loopCancel, c.loopDone = cancel, done
	go c.loop(ctx, interval, done)
	c.logger.Info("auto refresh started", "interval", interval)
	return true
}

func (c *Controller) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if c.Busy() == "" {
			c.Refresh(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Stop signals the refresh loop and waits up to StopTimeout for it to exit.
// It reports whether the loop was joined.
func (c *Controller) Stop() bool {
	c.loopMu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel, c.loopDone = nil, nil
	c.loopMu.Unlock()
	if cancel == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		return true
	case <-time.After(StopTimeout):
		c.logger.Warn("refresh loop did not stop in time")
		return false
	}
}

// Watching reports whether the refresh loop is running.
func (c *Controller) Watching() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.loopCancel != nil
}
