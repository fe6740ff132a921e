// Package toolstest provides a scripted tools.Runner for tests that must not
// touch the host.
package toolstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// Response is the scripted result of one command line.
type Response struct {
	Output string
	Err    error
}

// Call records one invocation seen by the fake.
type Call struct {
	Line  string
	Input string
}

// FakeRunner answers commands from a table keyed by the full command line
// ("pfctl -s info"). Unknown commands succeed with empty output unless
// Strict is set.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string][]Response
	Calls     []Call
	Strict    bool
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string][]Response)}
}

// On scripts the output for a command line. Repeated calls queue responses;
// the last one sticks once the queue is drained.
func (f *FakeRunner) On(line string, output string) *FakeRunner {
	return f.add(line, Response{Output: output})
}

// Fail scripts a failing command line. The error is wrapped in a
// tools.CommandError like the real runner does.
func (f *FakeRunner) Fail(line string, output string) *FakeRunner {
	return f.add(line, Response{Output: output, Err: fmt.Errorf("exit status 1")})
}

// FailWith scripts a failing command line with a specific cause, such as
// context.DeadlineExceeded.
func (f *FakeRunner) FailWith(line string, output string, err error) *FakeRunner {
	return f.add(line, Response{Output: output, Err: err})
}

func (f *FakeRunner) add(line string, r Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = append(f.responses[line], r)
	return f
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f.RunWithInput(ctx, "", name, args...)
}

func (f *FakeRunner) RunWithInput(
	_ context.Context,
	input string,
	name string,
	args ...string,
) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Line: line, Input: input})

	queue, ok := f.responses[line]
	if !ok || len(queue) == 0 {
		if f.Strict {
			return "", &tools.CommandError{Command: name, Args: args, Err: fmt.Errorf("unexpected command")}
		}
		return "", nil
	}

	resp := queue[0]
	if len(queue) > 1 {
		f.responses[line] = queue[1:]
	}
	if resp.Err != nil {
		return resp.Output, &tools.CommandError{Command: name, Args: args, Output: resp.Output, Err: resp.Err}
	}
	return resp.Output, nil
}

// Lines returns the command lines seen so far, in order.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = c.Line
	}
	return lines
}

// Count returns how many times a command line was run.
func (f *FakeRunner) Count(line string) int {
	n := 0
	for _, l := range f.Lines() {
		if l == line {
			n++
		}
	}
	return n
}

// CountPrefix returns how many command lines start with prefix.
func (f *FakeRunner) CountPrefix(prefix string) int {
	n := 0
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
