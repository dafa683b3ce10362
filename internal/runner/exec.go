// Package runner executes local tools (docker, git) on behalf of the CLI.
//
// Short commands are run to completion through Command.CombinedOutput. Long
// running commands are started with Command.Start and expose their output as
// a stream of raw chunks so callers can react to progress while the process
// is still running. Every command runs in its own process group, and killing
// it kills the whole group.
package runner

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait keeps copying output after the command's
// context is done, when a descendant still holds the pipes.
const waitDelay = 2 * time.Second

// execCommandContext is a test seam for stubbing command creation in tests.
var execCommandContext = exec.CommandContext

// Command represents a command that can be executed.
type Command interface {
	CombinedOutput() ([]byte, error)
	Start() (Process, error)
	SetStdin(r io.Reader)
}

// Executor creates commands for execution.
// Cancelling ctx kills the process started from the returned command.
type Executor interface {
	Command(ctx context.Context, name string, args []string, validators ...ExecValidator) (Command, error)
}

// execCmd wraps exec.Cmd to implement Command interface.
type execCmd struct {
	ctx context.Context
	cmd *exec.Cmd
}

func (c *execCmd) CombinedOutput() ([]byte, error) { return c.cmd.CombinedOutput() }
func (c *execCmd) SetStdin(r io.Reader)            { c.cmd.Stdin = r }

// Start spawns the process and begins pumping its output.
func (c *execCmd) Start() (Process, error) {
	return startProcess(c.ctx, c.cmd)
}

// osExecutor is the production implementation using os/exec.
type osExecutor struct{}

func (osExecutor) Command(ctx context.Context, name string, args []string, validators ...ExecValidator) (Command, error) {
	spec := ExecSpec{Name: name, Args: args}
	for _, validate := range validators {
		if err := validate(spec); err != nil {
			return nil, err
		}
	}
	cmd := execCommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	return &execCmd{ctx: ctx, cmd: cmd}, nil
}

// Default is the Executor backed by os/exec.
var Default Executor = osExecutor{}

type ExecSpec struct {
	Name string
	Args []string
}

type ExecValidator func(ExecSpec) error

func NoShellMeta() ExecValidator {
	return func(spec ExecSpec) error {
		for _, arg := range spec.Args {
			if strings.ContainsAny(arg, "&|;<>()$`\\") {
				return errors.New("exec: shell metacharacters not allowed")
			}
		}
		return nil
	}
}

func NoControlChars() ExecValidator {
	return func(spec ExecSpec) error {
		for _, arg := range spec.Args {
			if strings.ContainsAny(arg, "\r\n\t") {
				return errors.New("exec: control characters not allowed")
			}
		}
		return nil
	}
}

// ExitCode reports the exit status carried by err.
// It returns 0 for a nil error and -1 when err carries no status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
