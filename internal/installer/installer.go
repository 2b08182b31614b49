// Package installer sequences the update workflow: stash, pull, restore,
// run the repository installer and an optional post-install script.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/ansi"
	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/metrics"
)

const (
	ModeFilesOnly = "files-only"
	ModeFull      = "full"

	// StashMessage labels stashes created by Update.
	StashMessage = "updatr-auto"
	// Entry is the installer script at the repository root.
	Entry = "setup"
)

// Activity event names.
const (
	EventStash       = "stash"
	EventPull        = "pull"
	EventStashPop    = "stash-pop"
	EventInstaller   = "installer"
	EventRetry       = "installer-retry"
	EventPostInstall = "post-install"
	EventUpdate      = "update"
	EventInstall     = "install"
)

// ConsoleRunner runs a command to completion while streaming its output.
// *console.Console implements it.
type ConsoleRunner interface {
	Run(ctx context.Context, spec console.Spec, sink console.Sink) (console.Result, error)
}

// StepResult describes one console-run step.
type StepResult struct {
	Ran      bool   `json:"ran"`
	Skipped  bool   `json:"skipped"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code"`
	Retried  bool   `json:"retried"`
	OK       bool   `json:"ok"`
	Note     string `json:"note,omitempty"`
}

// Report is the outcome of Update or Install.
type Report struct {
	RepoPath    string     `json:"repo_path"`
	Stashed     bool       `json:"stashed"`
	PullOK      bool       `json:"pull_ok"`
	PopWarning  string     `json:"pop_warning,omitempty"`
	Installer   StepResult `json:"installer"`
	PostInstall StepResult `json:"post_install"`
	OK          bool       `json:"ok"`
	Error       string     `json:"error,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Started     time.Time  `json:"started"`
	Finished    time.Time  `json:"finished"`
}

// Summary is a one-line human readable result.
func (r Report) Summary() string {
	switch {
	case r.Error != "":
		return "Update failed: " + r.Error
	case !r.OK:
		return fmt.Sprintf("Installer failed (exit %d)", r.Installer.ExitCode)
	case len(r.Warnings) > 0:
		return "Completed with warnings: " + strings.Join(r.Warnings, "; ")
	default:
		return "Completed"
	}
}

// Orchestrator runs the update sequence on the calling goroutine.
type Orchestrator struct {
	Git     gitprobe.Runner
	Console ConsoleRunner
	Log     *activity.Log
	// Sink receives child output and progress banners; may be nil.
	Sink   console.Sink
	Mode   string
	UsePTY bool
	// Env is the complete child environment; nil inherits.
	Env         []string
	PostInstall string
	Logger      *slog.Logger
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) record(event, summary, detail string) {
	o.log().Info(summary, "event", event)
	if o.Log != nil {
		o.Log.Add(event, summary, detail)
	}
}

// say writes a progress banner into the console output.
func (o *Orchestrator) say(format string, a ...any) {
	if o.Sink == nil {
		return
	}
	text := fmt.Sprintf(format, a...)
	o.Sink.Output(text, []ansi.Span{{Text: text}})
}

func (o *Orchestrator) run(ctx context.Context, dir string, argv ...string) (console.Result, error) {
	res, err := o.Console.Run(ctx, console.Spec{Argv: argv, Dir: dir, UsePTY: o.UsePTY, Env: o.Env}, o.Sink)
	if err != nil {
		o.say("[error] %v\n", err)
	} else {
		o.say("[exit %d]\n", res.ExitCode)
	}
	return res, err
}

// Update stashes local changes when st is dirty, pulls, restores the stash,
// then runs the installer and post-install script. Each step only runs when
// the one before it succeeded; a failed stash pop is a warning.
func (o *Orchestrator) Update(ctx context.Context, st gitprobe.RepoStatus) Report {
	rep := Report{RepoPath: st.RepoPath, Started: time.Now()}
	defer func() {
		rep.Finished = time.Now()
		metrics.IncOperation(EventUpdate, rep.OK)
		o.record(EventUpdate, rep.Summary(), "")
	}()
	if !st.OK {
		rep.Error = st.Error
		return rep
	}
	repo := st.RepoPath

	if st.Dirty > 0 {
		o.say("Stashing local changes...\n")
		_, stderr, err := o.Git.Run(ctx, repo, "stash", "push", "--include-untracked", "-m", StashMessage)
		if err != nil {
			rep.Error = "stash failed: " + firstLine(stderr, err)
			o.record(EventStash, "Stash failed, update aborted", strings.TrimSpace(stderr))
			return rep
		}
		rep.Stashed = true
		o.record(EventStash, fmt.Sprintf("Stashed %d local change(s)", st.Dirty), "")
	}

	o.say("Pulling updates...\n")
	res, err := o.run(ctx, repo, "git", "pull", "--rebase", "--autostash", "--stat")
	rep.PullOK = err == nil && res.ExitCode == 0
	if !rep.PullOK {
		detail := fmt.Sprintf("exit %d", res.ExitCode)
		if err != nil {
			detail = err.Error()
		}
		rep.Error = "pull failed: " + detail
		o.record(EventPull, "Pull failed", detail)
		if rep.Stashed {
			rep.Warnings = append(rep.Warnings, "local changes remain stashed as "+StashMessage)
		}
		return rep
	}
	o.record(EventPull, fmt.Sprintf("Pulled %d commit(s)", st.Behind), "")

	if rep.Stashed {
		o.say("Restoring stash...\n")
		if _, stderr, err := o.Git.Run(ctx, repo, "stash", "pop"); err != nil {
			rep.PopWarning = firstLine(stderr, err)
			rep.Warnings = append(rep.Warnings, "stash pop failed, resolve manually: "+rep.PopWarning)
			o.log().Warn("stash pop failed", "repo", repo, "error", rep.PopWarning)
			if o.Log != nil {
				o.Log.Add(EventStashPop, "Stash pop failed; resolve conflicts manually", strings.TrimSpace(stderr))
			}
		} else {
			o.record(EventStashPop, "Restored local changes", "")
		}
	}

	o.installSteps(ctx, repo, &rep)
	return rep
}

// Install runs only the installer and post-install script against repo.
func (o *Orchestrator) Install(ctx context.Context, repo string) Report {
	rep := Report{RepoPath: repo, PullOK: true, Started: time.Now()}
	o.installSteps(ctx, repo, &rep)
	rep.Finished = time.Now()
	metrics.IncOperation(EventInstall, rep.OK)
	o.record(EventInstall, rep.Summary(), "")
	return rep
}

func (o *Orchestrator) installSteps(ctx context.Context, repo string, rep *Report) {
	rep.Installer = o.runInstaller(ctx, repo)
	rep.OK = rep.PullOK && (rep.Installer.Skipped || rep.Installer.OK)
	if !rep.OK {
		rep.PostInstall = StepResult{Skipped: true, Note: "installer failed"}
		return
	}
	rep.PostInstall = o.runPostInstall(ctx, repo)
	if rep.PostInstall.Ran && !rep.PostInstall.OK {
		rep.Warnings = append(rep.Warnings, "post-install script failed: "+rep.PostInstall.Note)
	}
}

func (o *Orchestrator) subcommand() string {
	if o.Mode == ModeFull {
		return "install"
	}
	return "install-files"
}

func (o *Orchestrator) runInstaller(ctx context.Context, repo string) StepResult {
	if !isExecutable(filepath.Join(repo, Entry)) {
		o.say("No executable ./%s found. Skipping installer.\n", Entry)
		o.record(EventInstaller, "No installer found, skipped", "")
		return StepResult{Skipped: true, OK: true, Note: "no executable ./" + Entry}
	}
	sub := o.subcommand()
	o.say("Running installer (%s)...\n", sub)
	step := o.consoleStep(ctx, repo, "./"+Entry, sub)
	if step.OK {
		o.record(EventInstaller, "Installer finished", step.Command)
		return step
	}
	o.record(EventInstaller, fmt.Sprintf("Installer failed (exit %d)", step.ExitCode), step.Note)
	if sub != "install-files" {
		return step
	}

	metrics.IncInstallerRetry()
	o.say("[fallback] Retrying with 'install'...\n")
	retry := o.consoleStep(ctx, repo, "./"+Entry, "install")
	retry.Retried = true
	if retry.OK {
		o.record(EventRetry, "Full install succeeded after files-only failure", retry.Command)
	} else {
		o.record(EventRetry, fmt.Sprintf("Full install failed (exit %d)", retry.ExitCode), retry.Note)
	}
	return retry
}

func (o *Orchestrator) consoleStep(ctx context.Context, dir string, argv ...string) StepResult {
	step := StepResult{Ran: true, Command: strings.Join(argv, " ")}
	res, err := o.run(ctx, dir, argv...)
	step.ExitCode = res.ExitCode
	switch {
	case err != nil:
		step.Note = err.Error()
	case res.ExitCode != 0:
		step.Note = fmt.Sprintf("exit %d", res.ExitCode)
	default:
		step.OK = true
	}
	return step
}

// runPostInstall runs the configured script. An existing file is executed
// directly (through bash when it is not executable); anything else is a
// shell command line.
func (o *Orchestrator) runPostInstall(ctx context.Context, repo string) StepResult {
	script := strings.TrimSpace(o.PostInstall)
	if script == "" {
		return StepResult{Skipped: true, OK: true}
	}
	var argv []string
	if fi, err := os.Stat(script); err == nil {
		if fi.IsDir() {
			o.record(EventPostInstall, "Post-install script is a directory", script)
			return StepResult{Ran: true, Command: script, ExitCode: -1, Note: "path is a directory"}
		}
		if isExecutable(script) {
			argv = []string{script}
		} else {
			argv = []string{"bash", script}
		}
	} else {
		argv = []string{"bash", "-c", script}
	}
	o.say("\n=== POST-INSTALL SCRIPT ===\n")
	step := o.consoleStep(ctx, repo, argv...)
	if step.OK {
		o.record(EventPostInstall, "Post-install script finished", step.Command)
	} else {
		o.record(EventPostInstall, "Post-install script failed", step.Note)
	}
	return step
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode().Perm()&0o111 != 0
}

func firstLine(stderr string, err error) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
