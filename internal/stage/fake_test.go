package stage

import (
	"context"
	"errors"
	"os"
	"sync"
)

// call records one Runner invocation.
type call struct {
	Name string
	Args []string
}

// fakeRunner records invocations and lets tests decide what each one does.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	handle func(name string, args []string) (Output, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Name: name, Args: append([]string(nil), args...)})
	h := f.handle
	f.mu.Unlock()

	if h == nil {
		return Output{}, nil
	}
	return h(name, args)
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// writeAfterFlag returns a handler writing content to the path that
// follows flag in the argument vector.
func writeAfterFlag(flag, content string) func(string, []string) (Output, error) {
	return func(_ string, args []string) (Output, error) {
		for i, a := range args {
			if a == flag && i+1 < len(args) {
				return Output{}, os.WriteFile(args[i+1], []byte(content), 0o644)
			}
		}
		return Output{}, errors.New("output flag not found")
	}
}

// writeAtIndex returns a handler writing content to args[idx].
func writeAtIndex(idx int, content string) func(string, []string) (Output, error) {
	return func(_ string, args []string) (Output, error) {
		return Output{}, os.WriteFile(args[idx], []byte(content), 0o644)
	}
}

var errExit = errors.New("exit status 1")
