package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Handler produces the outcome of a faked command
type Handler func(cmd Command) (*Result, error)

// Fake is an in-memory Runner for tests. Handlers are matched by the
// longest registered prefix of the rendered command line.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	paths    map[string]bool
	calls    []Command
}

// NewFake creates a Fake where every command succeeds with empty output
func NewFake() *Fake {
	return &Fake{
		handlers: make(map[string]Handler),
		paths:    make(map[string]bool),
	}
}

// On registers h for commands whose rendered line starts with prefix
func (f *Fake) On(prefix string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
}

// Fail makes commands starting with prefix exit with code 1 and output msg
func (f *Fake) Fail(prefix, msg string) {
	f.On(prefix, func(cmd Command) (*Result, error) {
		res := &Result{Stderr: []byte(msg), ExitCode: 1}
		return res, &Error{Command: cmd.String(), ExitCode: 1, Output: msg, Err: fmt.Errorf("exit status 1")}
	})
}

// Stdout makes commands starting with prefix print out
func (f *Fake) Stdout(prefix, out string) {
	f.On(prefix, func(Command) (*Result, error) {
		return &Result{Stdout: []byte(out)}, nil
	})
}

// AddPath marks tool as present on PATH
func (f *Fake) AddPath(tools ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tools {
		f.paths[t] = true
	}
}

// Run records cmd and dispatches to the matching handler
func (f *Fake) Run(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	line := cmd.String()
	var best string
	var h Handler
	for prefix, handler := range f.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, h = prefix, handler
		}
	}
	f.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	return h(cmd)
}

// LookPath succeeds for tools registered with AddPath
func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paths[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Calls returns the rendered command lines run so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Commands returns the recorded commands
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// Count returns how many recorded command lines start with prefix
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
