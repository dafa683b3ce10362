package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// chunkSize bounds a single read from a subprocess pipe.
const chunkSize = 32 * 1024

// Stream identifies one of the two output streams of a process.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a piece of process output. Chunks are not aligned to lines.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// Process is a started subprocess.
//
// Stdout and Stderr deliver output chunks and are closed at EOF. Callers must
// keep receiving from both channels until they close, or call Kill, before
// calling Wait.
type Process interface {
	Stdout() <-chan []byte
	Stderr() <-chan []byte
	Wait() error
	Kill() error
}

type osProcess struct {
	cmd     *exec.Cmd
	stdout  chan []byte
	stderr  chan []byte
	readers []io.Closer
	quit    chan struct{}
	pumps   errgroup.Group
	stop    func() bool

	killOnce sync.Once
	waitOnce sync.Once
	waitErr  error
}

// startProcess starts cmd with both output streams piped. Cancelling ctx
// kills the process the same way Kill does.
func startProcess(ctx context.Context, cmd *exec.Cmd) (*osProcess, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &osProcess{
		cmd:     cmd,
		stdout:  make(chan []byte),
		stderr:  make(chan []byte),
		readers: []io.Closer{stdout, stderr},
		quit:    make(chan struct{}),
		stop:    func() bool { return false },
	}
	p.pumps.Go(func() error { return p.pump(stdout, p.stdout) })
	p.pumps.Go(func() error { return p.pump(stderr, p.stderr) })
	if ctx != nil {
		p.stop = context.AfterFunc(ctx, func() { _ = p.Kill() })
	}
	return p, nil
}

func (p *osProcess) pump(r io.Reader, out chan<- []byte) error {
	defer close(out)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- data:
			case <-p.quit:
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (p *osProcess) Stdout() <-chan []byte { return p.stdout }
func (p *osProcess) Stderr() <-chan []byte { return p.stderr }

func (p *osProcess) Wait() error {
	p.waitOnce.Do(func() {
		defer p.stop()
		pumpErr := p.pumps.Wait()
		p.waitErr = p.cmd.Wait()
		if p.waitErr == nil {
			p.waitErr = pumpErr
		}
	})
	return p.waitErr
}

// Kill kills the process group and closes the read ends of both pipes, so
// the pumps return even when a descendant escaped the group and still holds
// the write ends.
func (p *osProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		close(p.quit)
		err = killGroup(p.cmd.Process)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
		for _, r := range p.readers {
			_ = r.Close()
		}
	})
	return err
}

// Drain receives both streams of p until they close and waits for exit.
func Drain(p Process) (stdout, stderr []byte, err error) {
	var out, errOut bytes.Buffer
	outCh, errCh := p.Stdout(), p.Stderr()
	for outCh != nil || errCh != nil {
		select {
		case data, ok := <-outCh:
			if !ok {
				outCh = nil
				continue
			}
			out.Write(data)
		case data, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			errOut.Write(data)
		}
	}
	err = p.Wait()
	return out.Bytes(), errOut.Bytes(), err
}
