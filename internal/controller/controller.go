// Package controller owns the settings and the long-lived components of the
// updater. Front ends (CLI, HTTP) drive it and observe it through the event
// broker; repository-mutating operations are serialized here.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/ansi"
	"github.com/loykin/updatr/internal/config"
	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/events"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/history"
	"github.com/loykin/updatr/internal/history/factory"
	"github.com/loykin/updatr/internal/installer"
	"github.com/loykin/updatr/internal/metrics"
	"github.com/loykin/updatr/internal/notify"
)

var (
	ErrBusy      = errors.New("another operation is running")
	ErrNoUpdates = errors.New("no updates available")
)

// StopTimeout bounds how long Stop waits for the refresh loop to exit.
const StopTimeout = 2 * time.Second

// Options configure New. Zero values select the production defaults.
type Options struct {
	ConfigPath string // "" uses config.DefaultPath
	Repo       string // overrides repo_path when non-empty
	Logger     *slog.Logger
	Notifier   notify.Notifier // nil picks Desktop or Nop from settings
	Git        gitprobe.Runner // nil runs the git binary
	Spawner    *console.Spawner
}

type Controller struct {
	logger *slog.Logger
	path   string

	mu       sync.Mutex
	settings config.Settings
	status   gitprobe.RepoStatus
	probed   bool
	op       string
	report   *installer.Report

	// repo serializes git work: probes and queries never overlap an operation.
	repo sync.Mutex

	git      gitprobe.Runner
	opGit    gitprobe.Runner // stash and pop, no per-call deadline
	ownGit   *gitprobe.ExecRunner
	prober   *gitprobe.Prober
	console  *console.Console
	activity *activity.Log
	broker   *events.Broker
	notifier notify.Notifier
	custom   bool
	history  history.Sink

	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New loads the settings and assembles every component. Unreadable settings
// fall back to defaults with a warning; a bad history DSN is an error.
func New(opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s, err := config.Load(path)
	if err != nil {
		logger.Warn("settings unreadable, using defaults", "path", path, "error", err)
	}
	if opts.Repo != "" {
		s.RepoPath = opts.Repo
	}
	for _, note := range s.Validate() {
		logger.Warn("settings corrected", "note", note)
	}

	c := &Controller{
		logger:   logger,
		path:     path,
		settings: s,
		git:      opts.Git,
		opGit:    opts.Git,
		broker:   events.NewBroker(),
		activity: activity.New(s.LogMaxLines),
		notifier: opts.Notifier,
		custom:   opts.Notifier != nil,
	}
	if c.git == nil {
		c.ownGit = &gitprobe.ExecRunner{Binary: "git", Timeout: s.GitTimeout()}
		c.git = c.ownGit
		c.opGit = &gitprobe.ExecRunner{Binary: "git"}
	}
	c.prober = &gitprobe.Prober{Git: c.git, Logger: logger}
	c.console = console.New(opts.Spawner, logger)
	if c.notifier == nil {
		c.notifier = pickNotifier(s, logger)
	}

	c.activity.SetLogger(logger)
	if s.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(s.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		c.history = sink
	}
	c.activity.SetExporter(&relay{broker: c.broker, sink: c.history})

	c.ctx, c.cancel = context.WithCancel(context.Background())
	logger.Debug("controller ready", "settings", path, "repo", s.Repo())
	return c, nil
}

func pickNotifier(s config.Settings, logger *slog.Logger) notify.Notifier {
	if s.SendNotifications {
		return notify.NewDesktop(logger)
	}
	return notify.Nop{}
}

// relay publishes every activity entry and forwards it to the history sink.
type relay struct {
	broker *events.Broker
	sink   history.Sink
}

func (r *relay) Send(ctx context.Context, e activity.Entry) error {
	r.broker.Publish(events.ActivityAdded{Entry: e})
	if r.sink == nil {
		return nil
	}
	return r.sink.Send(ctx, e)
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SettingsPath is the file SaveSettings writes.
func (c *Controller) SettingsPath() string { return c.path }

// SaveSettings validates s, persists it and makes it current. A running
// refresh loop is restarted when the interval changed.
func (c *Controller) SaveSettings(s config.Settings) error {
	s.Validate()
	if err := config.Save(c.path, s); err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.settings
	c.settings = s
	if !c.custom {
		c.notifier = pickNotifier(s, c.logger)
	}
	c.mu.Unlock()

	if c.ownGit != nil && s.GitTimeoutSeconds != prev.GitTimeoutSeconds {
		c.logger.Info("git timeout takes effect after restart", "seconds", s.GitTimeoutSeconds)
	}
	c.logger.Info("settings saved", "path", c.path)
	if s.AutoRefreshSeconds != prev.AutoRefreshSeconds && c.Watching() {
		c.Stop()
		c.Start()
	}
	return nil
}

func (c *Controller) Broker() *events.Broker { return c.broker }

func (c *Controller) Activity() []activity.Entry { return c.activity.Entries() }

// ActivitySince returns the entries recorded after the entry with the given id.
func (c *Controller) ActivitySince(id string) []activity.Entry { return c.activity.Since(id) }

// History returns up to limit exported entries, newest first. Without a
// readable history sink it falls back to this session's activity.
func (c *Controller) History(ctx context.Context, limit int) ([]activity.Entry, error) {
	if r, ok := c.history.(history.Reader); ok {
		return r.Recent(ctx, limit)
	}
	all := c.activity.Entries()
	out := make([]activity.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Status returns the last probed status and whether a probe has run.
func (c *Controller) Status() (gitprobe.RepoStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.probed
}

// LastReport returns the result of the most recent update or install.
func (c *Controller) LastReport() *installer.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return nil
	}
	r := *c.report
	return &r
}

// Busy returns the name of the running operation, or "".
func (c *Controller) Busy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op
}

// Refresh probes the repository, stores and publishes the result. While an
// operation runs it returns the last status without touching the repository.
func (c *Controller) Refresh(ctx context.Context) gitprobe.RepoStatus {
	c.mu.Lock()
	busy, last, had := c.op != "", c.status, c.probed
	c.mu.Unlock()
	if busy && had {
		return last
	}
	return c.probe(ctx)
}

func (c *Controller) probe(ctx context.Context) gitprobe.RepoStatus {
	repo := c.Settings().Repo()
	c.repo.Lock()
	st := c.prober.Probe(ctx, repo)
	c.repo.Unlock()
	metrics.ObserveProbe(st.OK, st.Behind, st.Ahead, st.Dirty)

	c.mu.Lock()
	prev, had := c.status, c.probed
	c.status, c.probed = st, true
	notifyOn, n := c.settings.SendNotifications, c.notifier
	c.mu.Unlock()

	c.broker.Publish(events.StatusReady{Status: st})
	switch {
	case !st.OK && (!had || prev.Error != st.Error):
		c.activity.Add("status", "Repository unavailable: "+st.Error, repo)
	case st.OK && st.Behind != prev.Behind && st.Behind > 0:
		c.activity.Add("status", fmt.Sprintf("%d update(s) available on %s", st.Behind, st.Upstream), "")
		if notifyOn && prev.Behind == 0 {
			n.Notify(ctx, "Updates available", fmt.Sprintf("%d new commit(s) on %s", st.Behind, st.Upstream))
		}
	}
	return st
}

func (c *Controller) currentStatus(ctx context.Context) gitprobe.RepoStatus {
	if st, ok := c.Status(); ok {
		return st
	}
	return c.Refresh(ctx)
}

// Commits lists commits pending on the upstream of the last status.
func (c *Controller) Commits(ctx context.Context) ([]gitprobe.Commit, error) {
	st := c.currentStatus(ctx)
	if !st.OK {
		return nil, errors.New(st.Error)
	}
	c.repo.Lock()
	defer c.repo.Unlock()
	return c.prober.PendingCommits(ctx, st)
}

// Details gathers the textual repository report for the last status.
func (c *Controller) Details(ctx context.Context) gitprobe.Details {
	st := c.currentStatus(ctx)
	c.repo.Lock()
	defer c.repo.Unlock()
	return c.prober.Details(ctx, st)
}

// Send relays text to the running child.
func (c *Controller) Send(text string) error { return c.console.Send(text) }

// Interrupt delivers SIGINT to the running child.
func (c *Controller) Interrupt() error { return c.console.Interrupt() }

// Resize forwards a terminal size change to a pty child.
func (c *Controller) Resize(rows, cols uint16) error { return c.console.Resize(rows, cols) }

// Usage samples the running child.
func (c *Controller) Usage() (*metrics.Usage, error) { return c.console.Usage() }

// Running returns pid and channel kind of the running child, if any.
func (c *Controller) Running() (pid int, kind string) { return c.console.Current() }

// Close stops the refresh loop, interrupts a running operation, waits briefly
// for it and releases the history sink.
func (c *Controller) Close() error {
	c.Stop()
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopTimeout):
		c.logger.Warn("operation still running at shutdown", "op", c.Busy())
	}
	c.broker.Close()
	if c.history != nil {
		return c.history.Close()
	}
	return nil
}

func outputSink(b *events.Broker) console.Sink {
	return console.SinkFunc(func(raw string, spans []ansi.Span) {
		b.Publish(events.OutputLine{Raw: raw, Spans: spans})
	})
}
