// Package mediatest provides a scripted media.Runner for tests.
package mediatest

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation.
type Call struct {
	Name string
	Args []string
}

// Joined returns the arguments joined by spaces.
func (c Call) Joined() string {
	return strings.Join(c.Args, " ")
}

// Handler answers one invocation.
type Handler func(ctx context.Context, name string, args []string) ([]byte, error)

// Runner dispatches every call to Handle and records it. A nil Handle
// succeeds with empty output.
type Runner struct {
	Handle Handler

	mu    sync.Mutex
	calls []Call
}

// Run implements media.Runner.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...)})
	r.mu.Unlock()
	if r.Handle == nil {
		return nil, nil
	}
	return r.Handle(ctx, name, args)
}

// Calls returns a copy of the recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// OutputPath returns the last argument, which is where ffmpeg writes.
func OutputPath(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}
