// Package gitprobetest provides a scripted git Runner for tests.
package gitprobetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/loykin/updatr/internal/gitprobe"
)

// Response is the scripted result for one git invocation.
type Response struct {
	Stdout string
	Stderr string
	Err    error
}

// Fail builds a failing response with the given stderr.
func Fail(stderr string) Response {
	return Response{Stderr: stderr, Err: errors.New("exit status 1")}
}

// Runner answers git invocations from a table keyed by the joined argument
// list ("rev-parse --abbrev-ref HEAD"). Unknown invocations get Default.
type Runner struct {
	mu        sync.Mutex
	Responses map[string]Response
	Default   Response
	calls     []Call
}

// Call records one invocation.
type Call struct {
	Dir  string
	Args []string
}

// New returns a Runner whose unknown invocations fail.
func New() *Runner {
	return &Runner{Responses: map[string]Response{}, Default: Fail("unscripted")}
}

// On scripts the response for args.
func (r *Runner) On(resp Response, args ...string) *Runner {
	r.mu.Lock()
	r.Responses[strings.Join(args, " ")] = resp
	r.mu.Unlock()
	return r
}

func (r *Runner) Run(_ context.Context, dir string, args ...string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Dir: dir, Args: append([]string(nil), args...)})
	resp, ok := r.Responses[strings.Join(args, " ")]
	if !ok {
		resp = r.Default
	}
	if resp.Err != nil {
		return resp.Stdout, resp.Stderr, &gitprobe.CommandError{Args: args, ExitCode: 1, Stderr: resp.Stderr, Err: resp.Err}
	}
	return resp.Stdout, resp.Stderr, nil
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Called reports whether an invocation starting with the given args happened.
func (r *Runner) Called(prefix ...string) bool {
	want := strings.Join(prefix, " ")
	for _, c := range r.Calls() {
		if strings.HasPrefix(strings.Join(c.Args, " "), want) {
			return true
		}
	}
	return false
}
