// Package shell runs the external tools the pipelines depend on (nosilo,
// pysilo) and captures their combined output. A failing command comes back
// as a *CommandError; nothing in this package terminates the process.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command is one argv invocation. Args are passed to the program as-is,
// without a shell in between.
type Command struct {
	Dir  string
	Env  []string // KEY=VALUE pairs added to the inherited environment
	Name string
	Args []string
}

func (c Command) String() string {
	parts := append([]string{}, c.Env...)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if strings.ContainsAny(arg, " \t\"'&|;") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Runner executes a Command and returns its combined stdout and stderr.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int // -1 when the command did not run to completion
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	start := time.Now()
	r.logger.Info("running command", zap.String("cmd", cmd.String()), zap.String("dir", cmd.Dir))
	err := c.Run()
	output := out.String()
	if err == nil {
		r.logger.Debug("command finished", zap.String("cmd", cmd.Name), zap.Duration("took", time.Since(start)))
		return output, nil
	}

	cmdErr := &CommandError{Command: cmd.String(), ExitCode: -1, Output: output, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	r.logger.Error("command failed", zap.String("cmd", cmd.String()), zap.Int("exit_code", cmdErr.ExitCode), zap.Error(err))
	return output, cmdErr
}

// Output returns the captured output of the first *CommandError in err's
// chain, if any.
func Output(err error) (string, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Output, true
	}
	return "", false
}
