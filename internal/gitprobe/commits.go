package gitprobe

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNoUpstream is returned by queries that compare HEAD against an upstream
// when the status carries none.
var ErrNoUpstream = errors.New("no upstream resolved")

// gitISOLayout matches `git log --date=iso`, e.g. "2024-05-01 13:04:05 +0200".
const gitISOLayout = "2006-01-02 15:04:05 -0700"

// Commit is one entry of the pending commit list.
type Commit struct {
	Hash    string    `json:"hash"`
	Short   string    `json:"short"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
}

// PendingCommits lists commits reachable from the upstream but not from HEAD,
// newest first.
func (p *Prober) PendingCommits(ctx context.Context, st RepoStatus) ([]Commit, error) {
	if st.Upstream == "" {
		return nil, ErrNoUpstream
	}
	out, _, err := p.Git.Run(ctx, st.RepoPath,
		"log", "--pretty=format:%H|%h|%an|%ae|%ad|%s", "--date=iso", "HEAD.."+st.Upstream)
	if err != nil {
		return nil, err
	}
	return ParseLog(out), nil
}

// ParseLog parses `git log --pretty=format:%H|%h|%an|%ae|%ad|%s --date=iso` output.
// Lines without all six fields are skipped; the subject may itself contain '|'.
func ParseLog(out string) []Commit {
	var commits []Commit
	for _, ln := range strings.Split(out, "\n") {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		parts := strings.SplitN(ln, "|", 6)
		if len(parts) != 6 {
			continue
		}
		c := Commit{
			Hash:    parts[0],
			Short:   parts[1],
			Author:  parts[2],
			Email:   parts[3],
			Subject: parts[5],
		}
		if t, err := time.Parse(gitISOLayout, strings.TrimSpace(parts[4])); err == nil {
			c.Date = t
		}
		commits = append(commits, c)
	}
	return commits
}

// DiffStat returns `git diff --stat HEAD..<upstream>`.
func (p *Prober) DiffStat(ctx context.Context, st RepoStatus) (string, error) {
	if st.Upstream == "" {
		return "", ErrNoUpstream
	}
	out, _, err := p.Git.Run(ctx, st.RepoPath, "diff", "--stat", "HEAD.."+st.Upstream)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// Section is one titled block of a Details report.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Details is a human readable report of the repository state.
type Details struct {
	Status   RepoStatus `json:"status"`
	Sections []Section  `json:"sections"`
}

// Details gathers working tree, remotes and (when updates are pending) the
// commits to pull plus a diff stat. Failing sections carry the git error text.
func (p *Prober) Details(ctx context.Context, st RepoStatus) Details {
	d := Details{Status: st}
	if !st.OK {
		return d
	}
	d.Sections = append(d.Sections,
		p.section(ctx, st.RepoPath, "git status --short", "(clean)", "status", "--short"),
		p.section(ctx, st.RepoPath, "git remote -v", "(none)", "remote", "-v"),
	)
	if st.HasUpdates() && st.Upstream != "" {
		d.Sections = append(d.Sections,
			p.section(ctx, st.RepoPath, "commits to pull", "(none)",
				"log", "--pretty=format:%h %s | %an, %ad", "--date=short", "HEAD.."+st.Upstream),
			p.section(ctx, st.RepoPath, "diff stat", "(none)", "diff", "--stat", "HEAD.."+st.Upstream),
		)
	}
	return d
}

func (p *Prober) section(ctx context.Context, dir, title, empty string, args ...string) Section {
	out, stderr, err := p.Git.Run(ctx, dir, args...)
	body := strings.TrimSpace(out)
	if body == "" {
		body = empty
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			body += "\nstderr:\n" + msg
		} else {
			body += "\nerror: " + err.Error()
		}
	}
	return Section{Title: title, Body: body}
}

// String renders the report as plain text.
func (d Details) String() string {
	st := d.Status
	var b strings.Builder
	b.WriteString("Repo: " + st.RepoPath + "\n")
	b.WriteString("Branch: " + orDefault(st.Branch, "(unknown)") + "\n")
	b.WriteString("Upstream: " + orDefault(st.Upstream, "(no upstream)") + "\n")
	b.WriteString("Ahead: " + strconv.Itoa(st.Ahead) + "\n")
	b.WriteString("Behind: " + strconv.Itoa(st.Behind) + "\n")
	b.WriteString("Dirty files: " + strconv.Itoa(st.Dirty) + "\n")
	if st.FetchError != "" {
		b.WriteString("Fetch warning: " + st.FetchError + "\n")
	}
	if st.Error != "" {
		b.WriteString("Error: " + st.Error + "\n")
	}
	for _, s := range d.Sections {
		b.WriteString("\n== " + s.Title + " ==\n")
		b.WriteString(s.Body + "\n")
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
