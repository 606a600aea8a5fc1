package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command describes one external command invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // Appended to the current environment
}

// String renders the command line for logs and errors
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// FromArgv builds a Command from an argv slice
func FromArgv(argv []string) Command {
	if len(argv) == 0 {
		return Command{}
	}
	return Command{Name: argv[0], Args: argv[1:]}
}

// Shell wraps a script in "sh -c"
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

// Result holds the captured output of a finished command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Output returns stdout and stderr joined
func (r *Result) Output() string {
	return strings.TrimSpace(string(r.Stdout) + string(r.Stderr))
}

// Error is returned when a command cannot start or exits non-zero
type Error struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: exit %d: %s: %v", e.Command, e.ExitCode, e.Output, e.Err)
	}
	return fmt.Sprintf("%s: exit %d: %v", e.Command, e.ExitCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes cmd and waits for it. A non-zero exit yields *Error while the
// captured result is still returned.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug().
		Str("command", cmd.String()).
		Str("dir", cmd.Dir).
		Msg("Running command")

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
		}
		r.logger.Debug().
			Str("command", cmd.String()).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("Command failed")
		return res, &Error{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
			Err:      err,
		}
	}

	r.logger.Debug().
		Str("command", cmd.String()).
		Dur("duration", res.Duration).
		Msg("Command finished")
	return res, nil
}

// LookPath resolves name on PATH
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
