package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/runner"
	"github.com/Orcapt/orca-cli/internal/runner/runnertest"
)

const testRepo = "123456789012.dkr.ecr.us-east-1.amazonaws.com/app-fn"

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(exec runner.Executor, opts Options) (*Client, *sleepRecorder) {
	c := NewClient(exec, opts, zap.NewNop())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

// scriptByVerb answers every docker call from a per-verb constructor.
func scriptByVerb(verbs map[string]func() *runnertest.MockCommand) *runnertest.MockExecutor {
	return &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			if len(spec.Args) == 0 {
				return nil
			}
			if build, ok := verbs[spec.Args[0]]; ok {
				return build()
			}
			return nil
		},
	}
}

func pushOf(chunks []runner.Chunk, exitErr error) func() *runnertest.MockCommand {
	return func() *runnertest.MockCommand {
		return &runnertest.MockCommand{
			StartFunc: func() (runner.Process, error) {
				return runnertest.Start(chunks, exitErr), nil
			},
		}
	}
}

func TestBackoff(t *testing.T) {
	c, _ := newTestClient(&runnertest.MockExecutor{}, Options{})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, c.backoff(i+1), "attempt %d", i+1)
	}
}

func TestLoginRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	exec := &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			attempts++
			if attempts < 3 {
				return &runnertest.MockCommand{
					StderrData: []byte("Error response from daemon: login attempt failed\n"),
					RunErr:     runnertest.Exit(1),
				}
			}
			return &runnertest.MockCommand{OutputData: []byte("Login Succeeded\n")}
		},
	}
	c, rec := newTestClient(exec, Options{})

	err := c.Login(context.Background(), "https://registry.example.com", "AWS", "s3cret", 3)
	require.NoError(t, err)

	assert.Equal(t, 3, exec.Count("login"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	for _, cmd := range exec.Recorded() {
		assert.Equal(t, "docker", cmd.Name)
		assert.Equal(t, []string{"login", "-u", "AWS", "--password-stdin", "https://registry.example.com"}, cmd.Args)
		assert.Equal(t, "s3cret", cmd.Stdin)
		assert.NotContains(t, strings.Join(cmd.Args, " "), "s3cret")
	}
}

func TestLoginSurfacesLastError(t *testing.T) {
	attempts := 0
	exec := &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			attempts++
			return &runnertest.MockCommand{
				StderrData: []byte("denied: attempt " + string(rune('0'+attempts))),
				RunErr:     runnertest.Exit(1),
			}
		},
	}
	c, rec := newTestClient(exec, Options{})

	err := c.Login(context.Background(), "registry.example.com", "AWS", "pw", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Contains(t, err.Error(), "denied: attempt 3")
	assert.Equal(t, 3, exec.Count("login"))
	assert.Len(t, rec.delays, 2)
}

func TestLoginAttemptTimeoutKillsProcess(t *testing.T) {
	var hung *runnertest.Process
	attempts := 0
	exec := &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			attempts++
			if attempts == 1 {
				return &runnertest.MockCommand{
					StartFunc: func() (runner.Process, error) {
						hung = runnertest.StartHanging(nil)
						return hung, nil
					},
				}
			}
			return &runnertest.MockCommand{}
		},
	}
	c, _ := newTestClient(exec, Options{LoginTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := c.Login(context.Background(), "registry.example.com", "AWS", "pw", 3)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NotNil(t, hung)
	assert.True(t, hung.Killed())
	assert.Equal(t, 2, exec.Count("login"))
}

func TestLoginTimeoutOnEveryAttempt(t *testing.T) {
	exec := &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			return &runnertest.MockCommand{
				StartFunc: func() (runner.Process, error) {
					return runnertest.StartHanging(nil), nil
				},
			}
		},
	}
	c, _ := newTestClient(exec, Options{LoginTimeout: 10 * time.Millisecond})

	err := c.Login(context.Background(), "registry.example.com", "AWS", "pw", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.True(t, errors.Is(err, ErrLoginTimeout))
}

func TestLoginStopsWhenContextCancelled(t *testing.T) {
	exec := &runnertest.MockExecutor{
		CommandFunc: func(spec runner.ExecSpec) *runnertest.MockCommand {
			return &runnertest.MockCommand{RunErr: runnertest.Exit(1)}
		},
	}
	c, _ := newTestClient(exec, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Login(ctx, "registry.example.com", "AWS", "pw", 3)
	require.Error(t, err)
	assert.Equal(t, 1, exec.Count("login"))
}

func TestTagIncludesToolOutput(t *testing.T) {
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{
		"tag": func() *runnertest.MockCommand {
			return &runnertest.MockCommand{
				StderrData: []byte("Error response from daemon: No such image: app:latest\n"),
				RunErr:     runnertest.Exit(1),
			}
		},
	})
	c, _ := newTestClient(exec, Options{})

	err := c.Tag(context.Background(), "app:latest", testRepo+":latest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTagFailed))
	assert.Contains(t, err.Error(), "No such image: app:latest")
	assert.Equal(t, []string{"tag", "app:latest", testRepo + ":latest"}, exec.Recorded()[0].Args)
}

func TestPublishHappyPath(t *testing.T) {
	push := runnertest.Lines(runner.Stdout,
		"The push refers to repository ["+testRepo+"]",
		"layer1: Preparing",
		"layer1: Pushing [===>      ]  10MB/50MB",
		"layer1: Pushing [==========>] 50MB/50MB",
		"layer1: Pushed",
		"latest: digest: sha256:0123 size: 528",
	)
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{
		"push": pushOf(push, nil),
	})
	c, _ := newTestClient(exec, Options{})

	var steps []Step
	var events []Progress
	remote, err := c.Publish(context.Background(), PublishRequest{
		LocalImage:    "app:latest",
		Endpoint:      "https://123456789012.dkr.ecr.us-east-1.amazonaws.com",
		Username:      "AWS",
		Password:      "pw",
		RepositoryURI: testRepo,
	}, func(s Step) { steps = append(steps, s) }, func(p Progress) { events = append(events, p) })

	require.NoError(t, err)
	assert.Equal(t, testRepo+":latest", remote)
	assert.Equal(t, []Step{StepLogin, StepTag, StepPush}, steps)
	require.NotEmpty(t, events)
	assert.Equal(t, Progress{Percent: 100, CompletedLayers: 1, TotalLayers: 1}, events[len(events)-1])
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Percent > events[i-1].Percent || events[i].Percent == 100,
			"event %d did not advance: %+v after %+v", i, events[i], events[i-1])
	}

	verbs := make([]string, 0, 3)
	for _, cmd := range exec.Recorded() {
		verbs = append(verbs, cmd.Args[0])
	}
	assert.Equal(t, []string{"login", "tag", "push"}, verbs)
}

func TestPushForcesCompletionOnSuccessfulExit(t *testing.T) {
	push := runnertest.Lines(runner.Stdout,
		"aaa: Preparing",
		"bbb: Preparing",
		"aaa: Pushing [=>   ] 5MB/50MB",
	)
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{"push": pushOf(push, nil)})
	c, _ := newTestClient(exec, Options{})

	var last Progress
	err := c.Push(context.Background(), testRepo+":latest", func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, Progress{Percent: 100, CompletedLayers: 2, TotalLayers: 2}, last)
}

func TestPushDenied(t *testing.T) {
	push := append(
		runnertest.Lines(runner.Stdout, "layer1: Preparing"),
		runnertest.Lines(runner.Stderr, "unauthorized: authentication required")...,
	)
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{"push": pushOf(push, runnertest.Exit(1))})
	c, _ := newTestClient(exec, Options{})

	err := c.Push(context.Background(), testRepo+":latest", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushFailed))
	assert.False(t, errors.Is(err, ErrPushStalled))
	assert.Contains(t, err.Error(), "unauthorized: authentication required")
}

func TestPushFailsOnDeniedLineDespiteCleanExit(t *testing.T) {
	push := append(
		runnertest.Lines(runner.Stdout, "layer1: Preparing"),
		runnertest.Lines(runner.Stderr,
			"retrying in 5 seconds",
			"denied: requested access to the resource is denied",
		)...,
	)
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{"push": pushOf(push, nil)})
	c, _ := newTestClient(exec, Options{})

	var events []Progress
	err := c.Push(context.Background(), testRepo+":latest", func(p Progress) { events = append(events, p) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushFailed))
	assert.Contains(t, err.Error(), "denied: requested access to the resource is denied")
	assert.NotContains(t, err.Error(), "retrying")
	for _, p := range events {
		assert.Less(t, p.Percent, 100)
	}
}

func TestPushFailureWithoutDetail(t *testing.T) {
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{"push": pushOf(nil, runnertest.Exit(2))})
	c, _ := newTestClient(exec, Options{})

	err := c.Push(context.Background(), testRepo+":latest", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")
}

func TestPushStallKillsProcess(t *testing.T) {
	var proc *runnertest.Process
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{
		"push": func() *runnertest.MockCommand {
			return &runnertest.MockCommand{
				StartFunc: func() (runner.Process, error) {
					proc = runnertest.StartHanging(runnertest.Lines(runner.Stdout, "layer1: Preparing"))
					return proc, nil
				},
			}
		},
	})
	c, _ := newTestClient(exec, Options{StallTimeout: 30 * time.Millisecond})

	err := c.Push(context.Background(), testRepo+":latest", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushStalled))
	require.NotNil(t, proc)
	assert.True(t, proc.Killed())
}

func TestPushInterruptKillsProcess(t *testing.T) {
	var proc *runnertest.Process
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{
		"push": func() *runnertest.MockCommand {
			return &runnertest.MockCommand{
				StartFunc: func() (runner.Process, error) {
					proc = runnertest.StartHanging(nil)
					return proc, nil
				},
			}
		},
	})
	c, _ := newTestClient(exec, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Push(ctx, testRepo+":latest", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushFailed))
	assert.True(t, proc.Killed())
}

func TestPushStartFailure(t *testing.T) {
	exec := scriptByVerb(map[string]func() *runnertest.MockCommand{
		"push": func() *runnertest.MockCommand {
			return &runnertest.MockCommand{
				StartFunc: func() (runner.Process, error) { return nil, errors.New("executable file not found") },
			}
		},
	})
	c, _ := newTestClient(exec, Options{})

	err := c.Push(context.Background(), testRepo+":latest", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushFailed))
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestPublishStopsAtFailedStep(t *testing.T) {
	tests := []struct {
		name     string
		verbs    map[string]func() *runnertest.MockCommand
		wantErr  error
		wantRuns []string
	}{
		{
			name: "login",
			verbs: map[string]func() *runnertest.MockCommand{
				"login": func() *runnertest.MockCommand { return &runnertest.MockCommand{RunErr: runnertest.Exit(1)} },
			},
			wantErr:  ErrLoginFailed,
			wantRuns: []string{"login", "login", "login"},
		},
		{
			name: "tag",
			verbs: map[string]func() *runnertest.MockCommand{
				"tag": func() *runnertest.MockCommand { return &runnertest.MockCommand{RunErr: runnertest.Exit(1)} },
			},
			wantErr:  ErrTagFailed,
			wantRuns: []string{"login", "tag"},
		},
		{
			name: "push",
			verbs: map[string]func() *runnertest.MockCommand{
				"push": pushOf(runnertest.Lines(runner.Stderr, "denied: requested access to the resource is denied"), runnertest.Exit(1)),
			},
			wantErr:  ErrPushFailed,
			wantRuns: []string{"login", "tag", "push"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := scriptByVerb(tt.verbs)
			c, _ := newTestClient(exec, Options{})

			remote, err := c.Publish(context.Background(), PublishRequest{
				LocalImage:    "app:v1",
				Endpoint:      "registry.example.com",
				Username:      "AWS",
				Password:      "pw",
				RepositoryURI: testRepo,
			}, nil, nil)

			require.Error(t, err)
			assert.Empty(t, remote)
			assert.True(t, errors.Is(err, tt.wantErr))
			var runs []string
			for _, cmd := range exec.Recorded() {
				runs = append(runs, cmd.Args[0])
			}
			assert.Equal(t, tt.wantRuns, runs)
		})
	}
}

func TestRemoteReference(t *testing.T) {
	tests := []struct {
		name    string
		local   string
		repo    string
		want    string
		wantErr bool
	}{
		{name: "tagged", local: "app:v2", repo: testRepo, want: testRepo + ":v2"},
		{name: "untagged", local: "app", repo: testRepo, want: testRepo + ":latest"},
		{name: "registry prefix", local: "localhost:5000/team/app:1.0", repo: testRepo, want: testRepo + ":1.0"},
		{name: "digest", local: "app@sha256:" + strings.Repeat("a", 64), repo: testRepo, want: testRepo + ":latest"},
		{name: "bad local", local: "App:Bad Tag", repo: testRepo, wantErr: true},
		{name: "bad repo", local: "app", repo: "not a repo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemoteReference(tt.local, tt.repo)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRef))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// killOnDeadline is an executor whose login processes hang until the command
// context ends and then exit as killed, like exec.CommandContext does.
type killOnDeadline struct{}

func (killOnDeadline) Command(ctx context.Context, _ string, _ []string, _ ...runner.ExecValidator) (runner.Command, error) {
	return &runnertest.MockCommand{
		StartFunc: func() (runner.Process, error) {
			proc := runnertest.StartHanging(nil)
			context.AfterFunc(ctx, func() { _ = proc.Kill() })
			return proc, nil
		},
	}, nil
}

func TestLoginReportsTimeoutWhenContextKillsProcess(t *testing.T) {
	c, _ := newTestClient(killOnDeadline{}, Options{LoginTimeout: 10 * time.Millisecond})

	for i := 0; i < 20; i++ {
		err := c.loginOnce(context.Background(), "registry.example.com", "AWS", "pw")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLoginTimeout), "attempt %d: %v", i, err)
		assert.NotContains(t, err.Error(), "signal: killed")
	}
}

// fakeDocker writes an executable shell script standing in for docker.
func fakeDocker(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestPushStallWithChildProcess(t *testing.T) {
	bin := fakeDocker(t, "echo 'layer1: Preparing'\nsleep 30\necho 'layer1: Pushed'")
	c := NewClient(runner.Default, Options{Binary: bin, StallTimeout: 200 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := c.Push(context.Background(), testRepo+":latest", nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushStalled))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoginTimeoutWithChildProcess(t *testing.T) {
	bin := fakeDocker(t, "sleep 5\necho 'Login Succeeded'")
	c, _ := newTestClient(runner.Default, Options{Binary: bin, LoginTimeout: 100 * time.Millisecond})

	start := time.Now()
	err := c.Login(context.Background(), "registry.example.com", "AWS", "pw", 2)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.True(t, errors.Is(err, ErrLoginTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}
