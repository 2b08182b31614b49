package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/loykin/updatr/internal/config"
	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/internal/installer"
	"github.com/loykin/updatr/internal/logger"
	"github.com/loykin/updatr/internal/metrics"
	"github.com/loykin/updatr/internal/output"
	"github.com/loykin/updatr/internal/server"
	itls "github.com/loykin/updatr/internal/tls"
)

// exitCodeError carries a child's exit code out of `updatr run`.
type exitCodeError struct{ code int }

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// command holds what every subcommand shares. open and signals are
// replaceable so the commands can be driven without a terminal.
type command struct {
	global  *GlobalFlags
	ui      *output.UI
	stdin   io.Reader
	open    func(*GlobalFlags) (*controller.Controller, error)
	signals func(sig ...os.Signal) (<-chan os.Signal, func())
}

func newCommand() *command {
	return &command{
		global:  &GlobalFlags{},
		ui:      output.New(),
		stdin:   os.Stdin,
		open:    openController,
		signals: notifySignals,
	}
}

func notifySignals(sig ...os.Signal) (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sig...)
	return ch, func() { signal.Stop(ch) }
}

// openController builds a controller whose console matches the terminal size.
func openController(g *GlobalFlags) (*controller.Controller, error) {
	sp := console.NewSpawner(nil)
	if rows, cols, ok := terminalSize(); ok {
		sp.Rows, sp.Cols = rows, cols
	}
	return controller.New(controller.Options{ConfigPath: g.ConfigPath, Repo: g.Repo, Spawner: sp})
}

func terminalSize() (rows, cols uint16, ok bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return uint16(h), uint16(w), true
}

func (c *command) settingsPath() (string, error) {
	if c.global.ConfigPath != "" {
		return c.global.ConfigPath, nil
	}
	return config.DefaultPath()
}

// setupLogging installs the default logger. The --log-level flag wins over
// the settings file.
func (c *command) setupLogging() {
	level := c.global.LogLevel
	if level == "" {
		if path, err := c.settingsPath(); err == nil {
			if s, err := config.Load(path); err == nil {
				level = s.LogLevel
			}
		}
	}
	if c.global.Verbose && level == "" {
		level = "debug"
	}
	logger.Setup(level, os.Stderr)
	c.ui.Verbose = c.global.Verbose
}

func (c *command) withController(fn func(*controller.Controller) error) error {
	ctl, err := c.open(c.global)
	if err != nil {
		return err
	}
	defer func() { _ = ctl.Close() }()
	return fn(ctl)
}

func (c *command) printJSON(v any) error {
	enc := json.NewEncoder(c.ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *command) Status(ctx context.Context, f StatusFlags) error {
	if f.APIUrl != "" {
		return c.remoteStatus(ctx, f)
	}
	return c.withController(func(ctl *controller.Controller) error {
		st := ctl.Refresh(ctx)
		if f.JSON {
			return c.printJSON(st)
		}
		c.ui.Status(st)
		return nil
	})
}

func (c *command) Commits(ctx context.Context, f StatusFlags) error {
	if f.APIUrl != "" {
		return c.remoteCommits(ctx, f)
	}
	return c.withController(func(ctl *controller.Controller) error {
		commits, err := ctl.Commits(ctx)
		if err != nil {
			return err
		}
		if f.JSON {
			return c.printJSON(commits)
		}
		c.ui.Commits(commits)
		return nil
	})
}

func (c *command) Details(ctx context.Context) error {
	return c.withController(func(ctl *controller.Controller) error {
		_, err := fmt.Fprint(c.ui.Out, ctl.Details(ctx).String())
		return err
	})
}

func (c *command) Update(ctx context.Context, f OperationFlags) error {
	if f.APIUrl != "" {
		return c.remoteOperation(ctx, f.RemoteFlags, controller.OpUpdate)
	}
	return c.withController(func(ctl *controller.Controller) error {
		err := c.operation(ctx, ctl, ctl.Update)
		if errors.Is(err, controller.ErrNoUpdates) {
			c.ui.Success("already up to date")
			return nil
		}
		return err
	})
}

func (c *command) Install(ctx context.Context, f OperationFlags) error {
	if f.APIUrl != "" {
		return c.remoteOperation(ctx, f.RemoteFlags, controller.OpInstall)
	}
	return c.withController(func(ctl *controller.Controller) error {
		return c.operation(ctx, ctl, ctl.Install)
	})
}

// operation runs an update or install in the live console and prints its
// report. A failed report is returned as an error.
func (c *command) operation(ctx context.Context, ctl *controller.Controller, op func(context.Context) (installer.Report, error)) error {
	var (
		rep installer.Report
		err error
	)
	c.live(ctx, ctl, func(ctx context.Context) {
		rep, err = op(ctx)
	})
	if err != nil {
		return err
	}
	c.ui.Report(rep)
	if !rep.OK {
		return errors.New(rep.Summary())
	}
	return nil
}

func (c *command) Run(ctx context.Context, f RunFlags, argv []string) error {
	return c.withController(func(ctl *controller.Controller) error {
		var (
			res console.Result
			err error
		)
		c.live(ctx, ctl, func(ctx context.Context) {
			res, err = ctl.Run(ctx, f.Dir, argv)
		})
		if err != nil {
			return err
		}
		c.ui.VerboseLog("%s exited %s after %s (%s)", argv[0], output.ExitColor(res.ExitCode),
			res.Duration.Round(time.Millisecond), res.Kind)
		if res.ExitCode != 0 {
			return &exitCodeError{code: res.ExitCode}
		}
		return nil
	})
}

// Watch runs the refresh loop and prints a line for every status change
// until interrupted.
func (c *command) Watch(ctx context.Context) error {
	return c.withController(func(ctl *controller.Controller) error {
		sub := ctl.Broker().Subscribe(64)
		defer sub.Close()
		if !ctl.Start() {
			return errors.New("auto_refresh_seconds is 0, nothing to watch")
		}
		sigs, stop := c.signals(os.Interrupt, syscall.SIGTERM)
		defer stop()
		c.ui.Info("watching %s every %s", ctl.Settings().Repo(), ctl.Settings().RefreshInterval())
		return c.follow(ctx, sub, sigs)
	})
}

func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	if f.Daemonize {
		if !isDaemonSupported() {
			return errors.New("daemonize is not supported on this platform")
		}
		return daemonize(f.PidFile, f.LogFile)
	}
	return c.withController(func(ctl *controller.Controller) error {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		listen := f.Listen
		if listen == "" {
			listen = ctl.Settings().Listen
		}
		tlsCfg, err := itls.Setup(itls.Options{
			CertFile:     f.TLS.CertFile,
			KeyFile:      f.TLS.KeyFile,
			Dir:          config.ExpandHome(f.TLS.Dir),
			AutoGenerate: f.TLS.Auto,
			MinVersion:   f.TLS.MinVersion,
		})
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		srv, err := server.NewServerTLS(listen, f.BasePath, ctl, tlsCfg)
		if err != nil {
			return err
		}
		scheme := "http"
		if tlsCfg != nil {
			scheme = "https"
		}
		if f.PidFile != "" {
			defer func() { _ = removePidFile(f.PidFile) }()
		}
		ctl.Start()
		c.ui.Success("serving on %s://%s%s", scheme, srv.Addr, f.BasePath)

		sigs, stop := c.signals(os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-ctx.Done():
		case <-sigs:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	return c.withController(func(ctl *controller.Controller) error {
		entries, err := ctl.History(ctx, f.Limit)
		if err != nil {
			return err
		}
		if f.JSON {
			return c.printJSON(entries)
		}
		c.ui.Activity(entries)
		return nil
	})
}

func (c *command) ConfigShow() error {
	path, err := c.settingsPath()
	if err != nil {
		return err
	}
	s, err := config.Load(path)
	if err != nil {
		c.ui.Warning("%v", err)
	}
	if c.global.Repo != "" {
		s.RepoPath = c.global.Repo
	}
	return c.printJSON(s)
}

func (c *command) ConfigPath() error {
	path, err := c.settingsPath()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.ui.Out, path)
	return err
}

func (c *command) ConfigInit(force bool) error {
	path, err := c.settingsPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Defaults()); err != nil {
		return err
	}
	c.ui.Success("wrote %s", path)
	return nil
}

func (c *command) ConfigSet(key, value string) error {
	path, err := c.settingsPath()
	if err != nil {
		return err
	}
	s, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := s.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(path, s); err != nil {
		return err
	}
	c.ui.Success("%s saved", key)
	return nil
}
