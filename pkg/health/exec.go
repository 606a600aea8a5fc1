package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/runner"
)

// ExecChecker runs a command and is healthy when it exits 0. Used to check
// that required tools answer (e.g. node --version).
type ExecChecker struct {
	// Command is the argv to execute (e.g., ["node", "--version"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	runner runner.Runner
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(r runner.Runner, command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
		runner:  r,
	}
}

// Check runs the command. The first line of its output is the message.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := runner.FromArgv(e.Command)
	res, err := e.runner.Run(execCtx, cmd)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("%s: %v", cmd, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	output, _, _ := strings.Cut(res.Output(), "\n")
	if len(output) > 100 {
		output = output[:100] + "..."
	}

	return Result{
		Healthy:   true,
		Message:   strings.TrimSpace(output),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}
