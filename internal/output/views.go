package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/installer"
	"github.com/loykin/updatr/internal/metrics"
)

// Status prints a repository status block.
func (u *UI) Status(st gitprobe.RepoStatus) {
	u.Field("Repo", st.RepoPath)
	if !st.OK {
		u.Error("%s", st.Error)
		return
	}
	u.Field("Branch", orDash(st.Branch))
	u.Field("Upstream", orDash(st.Upstream))
	u.Field("Behind", CountColor(st.Behind))
	u.Field("Ahead", CountColor(st.Ahead))
	u.Field("Dirty", CountColor(st.Dirty))
	if !st.CheckedAt.IsZero() {
		u.Field("Checked", humanize.Time(st.CheckedAt))
	}
	if st.FetchError != "" {
		u.Warning("fetch failed: %s", st.FetchError)
	}
	switch {
	case st.HasUpdates():
		u.Info("%s available", Yellow(plural(st.Behind, "update")))
	default:
		u.Success("up to date")
	}
}

// StatusLine is a one-line summary used by watch mode.
func StatusLine(st gitprobe.RepoStatus) string {
	if !st.OK {
		return Red(st.Error)
	}
	line := fmt.Sprintf("%s → %s  behind %s  ahead %s  dirty %s",
		orDash(st.Branch), orDash(st.Upstream), CountColor(st.Behind), CountColor(st.Ahead), CountColor(st.Dirty))
	if st.FetchError != "" {
		line += "  " + Yellow("(fetch failed)")
	}
	return line
}

// Commits prints pending commits as a table, newest first.
func (u *UI) Commits(commits []gitprobe.Commit) {
	if len(commits) == 0 {
		u.Success("no pending commits")
		return
	}
	table := u.Table([]string{"Commit", "Subject", "Author", "Age"})
	for _, c := range commits {
		age := "-"
		if !c.Date.IsZero() {
			age = humanize.Time(c.Date)
		}
		_ = table.Append([]string{Cyan(c.Short), Truncate(c.Subject, 60), c.Author, age})
	}
	_ = table.Render()
}

// Activity prints activity entries as a table.
func (u *UI) Activity(entries []activity.Entry) {
	if len(entries) == 0 {
		u.Info("no activity recorded")
		return
	}
	table := u.Table([]string{"Time", "Event", "Summary"})
	for _, e := range entries {
		_ = table.Append([]string{e.Time.Format(time.DateTime), e.Event, Truncate(e.Summary, 80)})
	}
	_ = table.Render()
}

// Report prints the outcome of an update or install.
func (u *UI) Report(rep installer.Report) {
	if rep.Stashed {
		u.VerboseLog("local changes were stashed as %s", installer.StashMessage)
	}
	u.step("Installer", rep.Installer)
	u.step("Post-install", rep.PostInstall)
	for _, w := range rep.Warnings {
		u.Warning("%s", w)
	}
	took := rep.Finished.Sub(rep.Started).Round(time.Millisecond)
	if !rep.OK {
		u.Error("%s", rep.Summary())
		return
	}
	u.Success("%s in %s", bold(rep.Summary()), took)
}

func (u *UI) step(name string, s installer.StepResult) {
	switch {
	case s.Skipped:
		note := s.Note
		if note == "" {
			note = "not configured"
		}
		u.VerboseLog("%s skipped (%s)", name, note)
	case s.Ran:
		retried := ""
		if s.Retried {
			retried = " after retry"
		}
		u.Info("%s: %s exited %s%s", name, s.Command, ExitColor(s.ExitCode), retried)
	}
}

// Usage prints a resource sample of the running child.
func (u *UI) Usage(pid int, kind string, usage *metrics.Usage) {
	u.Field("PID", strconv.Itoa(pid))
	u.Field("Channel", kind)
	if usage == nil {
		return
	}
	u.Field("CPU", fmt.Sprintf("%.1f%%", usage.CPUPercent))
	u.Field("Memory", humanize.IBytes(usage.MemoryRSS))
	u.Field("Threads", strconv.Itoa(int(usage.NumThreads)))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
