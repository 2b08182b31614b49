// Package gitprobe inspects a local git repository: branch, upstream,
// ahead/behind counts and the number of locally modified paths.
package gitprobe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Structural probe errors. They are the only failures that make a status not OK.
const (
	ErrMsgPathNotFound = "repository path not found"
	ErrMsgNotARepo     = "not a git repository"
)

// RepoStatus is an immutable snapshot produced by one probe.
type RepoStatus struct {
	OK         bool      `json:"ok"`
	RepoPath   string    `json:"repo_path"`
	Branch     string    `json:"branch,omitempty"`
	Upstream   string    `json:"upstream,omitempty"`
	Behind     int       `json:"behind"`
	Ahead      int       `json:"ahead"`
	Dirty      int       `json:"dirty"`
	FetchError string    `json:"fetch_error,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HasUpdates reports whether upstream has commits the local branch lacks.
func (s RepoStatus) HasUpdates() bool { return s.OK && s.Behind > 0 }

// Prober runs the status algorithm against a Runner.
type Prober struct {
	Git Runner
	// SkipFetch disables the network fetch; counts are computed from local refs.
	SkipFetch bool
	Logger    *slog.Logger
}

// New returns a Prober using the real git binary with the given per-call timeout.
func New(timeout time.Duration) *Prober {
	return &Prober{Git: &ExecRunner{Binary: "git", Timeout: timeout}}
}

func (p *Prober) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Probe computes the status of the repository at path. Only a missing path or
// a missing .git marker yield OK=false; every git failure degrades to a default.
func (p *Prober) Probe(ctx context.Context, path string) RepoStatus {
	st := RepoStatus{RepoPath: path, CheckedAt: time.Now()}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		st.Error = ErrMsgPathNotFound
		return st
	}
	// .git is a directory for normal clones and a file for worktrees/submodules
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		st.Error = ErrMsgNotARepo
		return st
	}
	st.OK = true

	if !p.SkipFetch {
		if _, stderr, err := p.Git.Run(ctx, path, "fetch", "--all", "--prune"); err != nil {
			msg := strings.TrimSpace(stderr)
			if msg == "" {
				msg = "fetch failed"
			}
			st.FetchError = msg
			p.log().Warn("git fetch failed", "repo", path, "error", msg)
		}
	}

	st.Branch = p.branch(ctx, path)
	st.Upstream = p.upstream(ctx, path, st.Branch)

	if st.Upstream != "" {
		st.Behind = p.count(ctx, path, "HEAD.."+st.Upstream)
		st.Ahead = p.count(ctx, path, st.Upstream+"..HEAD")
	}
	st.Dirty = p.dirtyCount(ctx, path)
	return st
}

func (p *Prober) branch(ctx context.Context, dir string) string {
	out, _, err := p.Git.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// upstream resolves the tracking ref, assuming origin/<branch> when none is configured.
func (p *Prober) upstream(ctx context.Context, dir, branch string) string {
	out, _, err := p.Git.Run(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err == nil {
		if up := strings.TrimSpace(out); up != "" {
			return up
		}
	}
	if branch != "" {
		return "origin/" + branch
	}
	return ""
}

func (p *Prober) count(ctx context.Context, dir, rng string) int {
	out, _, err := p.Git.Run(ctx, dir, "rev-list", "--count", rng)
	if err != nil {
		p.log().Debug("rev-list failed", "range", rng, "error", err)
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (p *Prober) dirtyCount(ctx context.Context, dir string) int {
	out, _, err := p.Git.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return 0
	}
	return countLines(out)
}

func countLines(s string) int {
	n := 0
	for _, ln := range strings.Split(s, "\n") {
		if strings.TrimSpace(ln) != "" {
			n++
		}
	}
	return n
}
