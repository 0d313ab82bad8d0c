// Package executortest provides a scripted in-memory executor.Executor.
package executortest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/polarfoxDev/wharf/internal/executor"
)

// Call records one command issued through the fake
type Call struct {
	Target executor.Target
	Script string
}

// Handler answers one command. Returning a non-nil error fails the call.
type Handler func(target executor.Target, script string) (string, error)

type rule struct {
	substr  string
	handler Handler
}

// Fake is an executor.Executor that records every call. Rules are matched
// in registration order by substring; unmatched commands succeed with
// empty output.
type Fake struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

func New() *Fake { return &Fake{} }

// On registers a handler for scripts containing substr
func (f *Fake) On(substr string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{substr: substr, handler: h})
	return f
}

// Reply registers a fixed output for scripts containing substr
func (f *Fake) Reply(substr, output string) *Fake {
	return f.On(substr, func(executor.Target, string) (string, error) { return output, nil })
}

// Fail makes scripts containing substr fail like a non-zero exit
func (f *Fake) Fail(substr, stderr string) *Fake {
	return f.On(substr, func(t executor.Target, s string) (string, error) {
		return "", &executor.ExecError{Target: t, Script: s, ExitCode: 1, Stderr: stderr}
	})
}

func (f *Fake) Execute(ctx context.Context, target executor.Target, script string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Target: target, Script: script})
	var h Handler
	for _, r := range f.rules {
		if strings.Contains(script, r.substr) {
			h = r.handler
			break
		}
	}
	f.mu.Unlock()

	if h == nil {
		return "", nil
	}
	return h(target, script)
}

func (f *Fake) Stream(ctx context.Context, target executor.Target, script string, w io.Writer) error {
	out, err := f.Execute(ctx, target, script)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Scripts returns the recorded scripts in order
func (f *Fake) Scripts() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Script
	}
	return out
}

// Count returns how many recorded scripts contain substr
func (f *Fake) Count(substr string) int {
	n := 0
	for _, s := range f.Scripts() {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the rules
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
