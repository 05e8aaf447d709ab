package stage

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// maxStderr bounds how much tool output is kept on an Error.
const maxStderr = 4096

// Output is what a finished command left behind.
type Output struct {
	// Stderr is the command's standard error, trimmed and bounded.
	Stderr string
}

// Runner executes an external command to completion.
//
// Run returns a non-nil error when the command could not start or exited
// with a non-zero status; ExitCode extracts the status from that error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner runs commands with os/exec, without a shell.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return Output{Stderr: tail(stderr.String())}, err
}

// ExitCode returns the exit status carried by a Runner error, or -1 when
// the process never ran to completion.
func ExitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
