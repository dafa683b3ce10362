// Package runnertest provides scripted fakes for runner.Executor so tests
// can drive docker interactions without spawning processes.
package runnertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Orcapt/orca-cli/internal/runner"
)

// ErrKilled is the wait error of a Process that was killed.
var ErrKilled = errors.New("signal: killed")

// ExitError is a wait error carrying an exit status, like *exec.ExitError.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
func (e *ExitError) ExitCode() int { return e.Code }

// Exit returns an *ExitError for code.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// RecordedCommand is a command created through MockExecutor.
type RecordedCommand struct {
	Name  string
	Args  []string
	Stdin string
}

// MockExecutor records commands and hands out MockCommands.
type MockExecutor struct {
	// CommandFunc builds the command for a spec. When nil a zero MockCommand is used.
	CommandFunc func(spec runner.ExecSpec) *MockCommand

	mu       sync.Mutex
	Commands []*RecordedCommand
}

func (m *MockExecutor) Command(_ context.Context, name string, args []string, validators ...runner.ExecValidator) (runner.Command, error) {
	spec := runner.ExecSpec{Name: name, Args: args}
	for _, validate := range validators {
		if err := validate(spec); err != nil {
			return nil, err
		}
	}
	rec := &RecordedCommand{Name: name, Args: append([]string(nil), args...)}
	m.mu.Lock()
	m.Commands = append(m.Commands, rec)
	m.mu.Unlock()

	var cmd *MockCommand
	if m.CommandFunc != nil {
		cmd = m.CommandFunc(spec)
	}
	if cmd == nil {
		cmd = &MockCommand{}
	}
	cmd.record = rec
	return cmd, nil
}

// Recorded returns a snapshot of the recorded commands.
func (m *MockExecutor) Recorded() []RecordedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedCommand, 0, len(m.Commands))
	for _, c := range m.Commands {
		out = append(out, *c)
	}
	return out
}

// Count returns how many recorded commands have sub as their first argument.
func (m *MockExecutor) Count(sub string) int {
	n := 0
	for _, c := range m.Recorded() {
		if len(c.Args) > 0 && c.Args[0] == sub {
			n++
		}
	}
	return n
}

// MockCommand is a runner.Command with canned behaviour. OutputData and
// StderrData are written to the respective streams and RunErr is the exit
// error, both for CombinedOutput and for the process returned by Start.
type MockCommand struct {
	OutputData []byte
	StderrData []byte
	RunErr     error
	StartFunc  func() (runner.Process, error)

	StdinR io.Reader

	record *RecordedCommand
}

func (c *MockCommand) captureStdin() {
	if c.StdinR == nil || c.record == nil {
		return
	}
	data, _ := io.ReadAll(c.StdinR)
	c.record.Stdin = string(data)
	c.StdinR = bytes.NewReader(data)
}

func (c *MockCommand) CombinedOutput() ([]byte, error) {
	c.captureStdin()
	return append(append([]byte(nil), c.OutputData...), c.StderrData...), c.RunErr
}

// Start returns StartFunc's process, or a process that writes OutputData and
// StderrData and exits with RunErr.
func (c *MockCommand) Start() (runner.Process, error) {
	c.captureStdin()
	if c.StartFunc != nil {
		return c.StartFunc()
	}
	var script []runner.Chunk
	if len(c.OutputData) > 0 {
		script = append(script, runner.Chunk{Stream: runner.Stdout, Data: c.OutputData})
	}
	if len(c.StderrData) > 0 {
		script = append(script, runner.Chunk{Stream: runner.Stderr, Data: c.StderrData})
	}
	return Start(script, c.RunErr), nil
}

func (c *MockCommand) SetStdin(r io.Reader) { c.StdinR = r }

// Process is a scripted runner.Process. It emits its script in order and
// then exits, or hangs until killed.
type Process struct {
	stdout chan []byte
	stderr chan []byte
	done   chan struct{}
	kill   chan struct{}

	killOnce sync.Once
	killed   atomic.Bool
	err      error
}

// Start runs script and exits with exitErr.
func Start(script []runner.Chunk, exitErr error) *Process {
	return start(script, exitErr, false)
}

// StartHanging runs script and then produces nothing until killed.
func StartHanging(script []runner.Chunk) *Process {
	return start(script, nil, true)
}

func start(script []runner.Chunk, exitErr error, hang bool) *Process {
	p := &Process{
		stdout: make(chan []byte),
		stderr: make(chan []byte),
		done:   make(chan struct{}),
		kill:   make(chan struct{}),
	}
	go p.run(script, exitErr, hang)
	return p
}

func (p *Process) run(script []runner.Chunk, exitErr error, hang bool) {
	defer close(p.done)
	defer close(p.stderr)
	defer close(p.stdout)

	for _, chunk := range script {
		out := p.stdout
		if chunk.Stream == runner.Stderr {
			out = p.stderr
		}
		select {
		case out <- chunk.Data:
		case <-p.kill:
			p.err = ErrKilled
			return
		}
	}
	if hang {
		<-p.kill
		p.err = ErrKilled
		return
	}
	p.err = exitErr
}

func (p *Process) Stdout() <-chan []byte { return p.stdout }
func (p *Process) Stderr() <-chan []byte { return p.stderr }

func (p *Process) Wait() error {
	<-p.done
	return p.err
}

func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		p.killed.Store(true)
		close(p.kill)
	})
	return nil
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	return p.killed.Load()
}

// Lines turns text lines into stdout chunks, one line per chunk.
func Lines(stream runner.Stream, lines ...string) []runner.Chunk {
	chunks := make([]runner.Chunk, 0, len(lines))
	for _, line := range lines {
		chunks = append(chunks, runner.Chunk{Stream: stream, Data: []byte(line + "\n")})
	}
	return chunks
}
