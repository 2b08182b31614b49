// Package updatr keeps a git-managed dotfiles checkout in sync with its
// upstream and runs the repository's installer in an interactive console.
package updatr

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/config"
	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/internal/events"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/installer"
	"github.com/loykin/updatr/internal/metrics"
	"github.com/loykin/updatr/internal/server"
)

// Re-export core types for external consumers.

type Status = gitprobe.RepoStatus

type Commit = gitprobe.Commit

type Report = installer.Report

type Entry = activity.Entry

type Settings = config.Settings

type Result = console.Result

type Event = events.Message

var (
	ErrBusy      = controller.ErrBusy
	ErrNoUpdates = controller.ErrNoUpdates
)

// Options configure New.
type Options struct {
	ConfigPath string // "" uses the XDG settings path
	Repo       string // overrides repo_path when set
	Logger     *slog.Logger
}

// Updater is a thin facade over the internal controller.
type Updater struct{ inner *controller.Controller }

func New(opts Options) (*Updater, error) {
	c, err := controller.New(controller.Options{ConfigPath: opts.ConfigPath, Repo: opts.Repo, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return &Updater{inner: c}, nil
}

func LoadSettings(path string) (Settings, error) { return config.Load(path) }

func (u *Updater) Settings() Settings                 { return u.inner.Settings() }
func (u *Updater) SaveSettings(s Settings) error      { return u.inner.SaveSettings(s) }
func (u *Updater) Refresh(ctx context.Context) Status { return u.inner.Refresh(ctx) }
func (u *Updater) Commits(ctx context.Context) ([]Commit, error) {
	return u.inner.Commits(ctx)
}
func (u *Updater) Update(ctx context.Context) (Report, error)  { return u.inner.Update(ctx) }
func (u *Updater) Install(ctx context.Context) (Report, error) { return u.inner.Install(ctx) }
func (u *Updater) Run(ctx context.Context, dir string, argv ...string) (Result, error) {
	return u.inner.Run(ctx, dir, argv)
}
func (u *Updater) Send(text string) error { return u.inner.Send(text) }
func (u *Updater) Interrupt() error       { return u.inner.Interrupt() }
func (u *Updater) Activity() []Entry      { return u.inner.Activity() }
func (u *Updater) Start() bool            { return u.inner.Start() }
func (u *Updater) Stop() bool             { return u.inner.Stop() }
func (u *Updater) Close() error           { return u.inner.Close() }

// Subscribe delivers controller events until the returned cancel is called.
func (u *Updater) Subscribe(buffer int) (<-chan Event, func()) {
	sub := u.inner.Broker().Subscribe(buffer)
	return sub.C, sub.Close
}

// Handler returns the HTTP API rooted at basePath, for mounting in another router.
func (u *Updater) Handler(basePath string) http.Handler {
	return server.NewRouter(u.inner, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API for u.
func NewHTTPServer(addr, basePath string, u *Updater) (*http.Server, error) {
	return server.NewServer(addr, basePath, u.inner)
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
