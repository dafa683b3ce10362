// Package registry logs in to a container registry, tags local images and
// pushes them with docker while reporting push progress.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/runner"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Options tunes the docker interaction.
type Options struct {
	Binary        string
	LoginAttempts int
	LoginTimeout  time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	// StallTimeout kills a push that produced no output for this long.
	StallTimeout time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Binary:        "docker",
		LoginAttempts: 3,
		LoginTimeout:  60 * time.Second,
		BackoffBase:   time.Second,
		BackoffCap:    5 * time.Second,
		StallTimeout:  10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Binary == "" {
		o.Binary = def.Binary
	}
	if o.LoginAttempts <= 0 {
		o.LoginAttempts = def.LoginAttempts
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = def.LoginTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = def.BackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = def.BackoffCap
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = def.StallTimeout
	}
	return o
}

// Step identifies a publish step.
type Step int

const (
	StepLogin Step = iota
	StepTag
	StepPush
)

func (s Step) String() string {
	switch s {
	case StepLogin:
		return "login"
	case StepTag:
		return "tag"
	case StepPush:
		return "push"
	}
	return "unknown"
}

// PublishRequest carries everything needed to publish one local image.
type PublishRequest struct {
	LocalImage    string
	Endpoint      string
	Username      string
	Password      string
	RepositoryURI string
}

// Client drives docker login, tag and push.
type Client struct {
	exec   runner.Executor
	opts   Options
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns a Client running docker through exec.
func NewClient(exec runner.Executor, opts Options, logger *zap.Logger) *Client {
	if exec == nil {
		exec = runner.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		exec:   exec,
		opts:   opts.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
	}
}

// Publish logs in, tags LocalImage as the remote reference and pushes it.
// It returns the remote reference. onStep is called before each step and
// onProgress receives push progress; both may be nil.
func (c *Client) Publish(ctx context.Context, req PublishRequest, onStep func(Step), onProgress func(Progress)) (string, error) {
	remote, err := RemoteReference(req.LocalImage, req.RepositoryURI)
	if err != nil {
		return "", err
	}
	step := func(s Step) {
		if onStep != nil {
			onStep(s)
		}
	}

	step(StepLogin)
	if err := c.Login(ctx, req.Endpoint, req.Username, req.Password, c.opts.LoginAttempts); err != nil {
		return "", err
	}
	step(StepTag)
	if err := c.Tag(ctx, req.LocalImage, remote); err != nil {
		return "", err
	}
	step(StepPush)
	if err := c.Push(ctx, remote, onProgress); err != nil {
		return "", err
	}
	return remote, nil
}

// Login authenticates docker against endpoint, retrying up to maxAttempts
// times with exponential backoff. Each attempt is bounded by the login
// timeout. The password is passed on stdin only.
func (c *Client) Login(ctx context.Context, endpoint, username, password string, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c.logger.Info("Logging into registry", zap.String("endpoint", endpoint), zap.Int("max_attempts", maxAttempts))

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		if attempts > 0 {
			delay := c.backoff(attempts)
			c.logger.Debug("Retrying registry login",
				zap.Int("attempt", attempts+1),
				zap.Duration("delay", delay),
				zap.String("last_error", errx.UserString(lastErr)),
			)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		lastErr = c.loginOnce(ctx, endpoint, username, password)
		if lastErr == nil {
			c.logger.Info("Successfully logged into registry", zap.Int("attempts", attempts))
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	return errx.WrapSentinelWithContext(
		ErrLoginFailed,
		lastErr,
		fmt.Sprintf("registry login failed after %d attempt(s): %s", attempts, errx.UserString(lastErr)),
		map[string]any{"endpoint": endpoint, "attempts": attempts, "component": "registry"},
	)
}

// backoff returns the delay before the retry that follows attempt n (1-based).
func (c *Client) backoff(n int) time.Duration {
	delay := c.opts.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.opts.BackoffCap {
			return c.opts.BackoffCap
		}
	}
	return min(delay, c.opts.BackoffCap)
}

type loginResult struct {
	stderr []byte
	err    error
}

func (c *Client) loginOnce(ctx context.Context, endpoint, username, password string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.LoginTimeout)
	defer cancel()

	// #nosec G204 -- password via stdin (not command line); args checked for control characters.
	cmd, err := c.exec.Command(attemptCtx, c.opts.Binary,
		[]string{"login", "-u", username, "--password-stdin", endpoint},
		runner.NoControlChars(),
	)
	if err != nil {
		return errx.WrapSentinel(ErrLoginFailed, err, fmt.Sprintf("invalid login arguments: %v", err))
	}
	cmd.SetStdin(strings.NewReader(password))
	proc, err := cmd.Start()
	if err != nil {
		return errx.WrapSentinel(ErrLoginFailed, err, fmt.Sprintf("failed to start %s login: %v", c.opts.Binary, err))
	}

	done := make(chan loginResult, 1)
	go func() {
		_, stderr, err := runner.Drain(proc)
		done <- loginResult{stderr: stderr, err: err}
	}()

	var res loginResult
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		_ = proc.Kill()
		res = <-done
	}
	if res.err == nil {
		return nil
	}
	// The context may have killed the process before the select saw it.
	if attemptCtx.Err() != nil {
		if ctx.Err() != nil {
			return errx.WrapSentinel(ErrLoginFailed, ctx.Err(), "registry login interrupted")
		}
		return errx.NewFromSentinel(ErrLoginTimeout,
			fmt.Sprintf("login attempt exceeded %s", c.opts.LoginTimeout))
	}
	detail := strings.TrimSpace(string(res.stderr))
	if detail == "" {
		detail = res.err.Error()
	}
	return errx.WrapSentinel(ErrLoginFailed, res.err, detail)
}

// Tag points remote at the local image.
func (c *Client) Tag(ctx context.Context, local, remote string) error {
	c.logger.Info("Tagging image", zap.String("source", local), zap.String("target", remote))

	// #nosec G204 -- image references come from validated flags and the platform API.
	cmd, err := c.exec.Command(ctx, c.opts.Binary, []string{"tag", local, remote},
		runner.NoControlChars(), runner.NoShellMeta())
	if err != nil {
		return errx.WrapSentinel(ErrTagFailed, err, fmt.Sprintf("invalid tag arguments: %v", err))
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = err.Error()
		}
		return errx.WrapSentinelWithContext(
			ErrTagFailed,
			err,
			fmt.Sprintf("failed to tag image: %s", detail),
			map[string]any{"source": local, "target": remote, "component": "registry"},
		)
	}
	return nil
}

// Push uploads remote and reports progress to onProgress. Progress is only
// forwarded when the percentage grows or reaches 100. A push that produces
// no output for the stall timeout is killed.
func (c *Client) Push(ctx context.Context, remote string, onProgress func(Progress)) error {
	c.logger.Info("Pushing image", zap.String("target", remote))

	// #nosec G204 -- image reference built from the platform repository URI.
	cmd, err := c.exec.Command(ctx, c.opts.Binary, []string{"push", remote},
		runner.NoControlChars(), runner.NoShellMeta())
	if err != nil {
		return errx.WrapSentinel(ErrPushFailed, err, fmt.Sprintf("invalid push arguments: %v", err))
	}
	proc, err := cmd.Start()
	if err != nil {
		return errx.WrapSentinel(ErrPushFailed, err, fmt.Sprintf("failed to start %s push: %v", c.opts.Binary, err))
	}

	s := newPushSession(proc, c.opts.StallTimeout, onProgress)
	defer s.close()
	if err := s.run(ctx); err != nil {
		if e, ok := err.(*errx.Error); ok {
			err = e.WithContextMap(map[string]any{"target": remote, "component": "registry"})
		}
		return err
	}
	c.logger.Info("Image pushed", zap.String("target", remote), zap.Int("layers", s.parser.Session().TotalLayers()))
	return nil
}

// pushSession owns the process, the parser and the stall watchdog of one
// push. close tears all of them down.
type pushSession struct {
	proc       runner.Process
	parser     *Parser
	watchdog   *time.Timer
	stall      time.Duration
	onProgress func(Progress)
	last       int

	exited    bool
	closeOnce sync.Once
}

func newPushSession(proc runner.Process, stall time.Duration, onProgress func(Progress)) *pushSession {
	return &pushSession{
		proc:       proc,
		parser:     NewParser(),
		watchdog:   time.NewTimer(stall),
		stall:      stall,
		onProgress: onProgress,
		last:       -1,
	}
}

func (s *pushSession) run(ctx context.Context) error {
	stdout, stderr := s.proc.Stdout(), s.proc.Stderr()
	for stdout != nil || stderr != nil {
		select {
		case data, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			s.feed(runner.Stdout, data)
		case data, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			s.feed(runner.Stderr, data)
		case <-s.watchdog.C:
			s.kill()
			return errx.NewFromSentinel(ErrPushStalled,
				fmt.Sprintf("image push produced no output for %s and was stopped", s.stall))
		case <-ctx.Done():
			s.kill()
			return errx.WrapSentinel(ErrPushFailed, ctx.Err(), "image push interrupted")
		}
	}

	if p, ok := s.parser.Flush(); ok {
		s.emit(p)
	}
	err := s.proc.Wait()
	s.exited = true
	if err != nil || s.parser.Failed() {
		detail := s.parser.FailureDetail()
		if detail == "" {
			detail = fmt.Sprintf("push exited with code %d", runner.ExitCode(err))
		}
		return errx.WrapSentinelWithContext(ErrPushFailed, err,
			fmt.Sprintf("failed to push image: %s", detail),
			map[string]any{"exit_code": runner.ExitCode(err)},
		)
	}
	s.forward(s.parser.Complete())
	return nil
}

func (s *pushSession) feed(stream runner.Stream, data []byte) {
	s.resetWatchdog()
	if p, ok := s.parser.Feed(stream, data); ok {
		s.emit(p)
	}
}

// emit forwards p when it moves the bar forward or reports completion.
func (s *pushSession) emit(p Progress) {
	if p.Percent > s.last || p.Percent == 100 {
		s.forward(p)
	}
}

func (s *pushSession) forward(p Progress) {
	s.last = p.Percent
	if s.onProgress != nil {
		s.onProgress(p)
	}
}

func (s *pushSession) resetWatchdog() {
	if !s.watchdog.Stop() {
		select {
		case <-s.watchdog.C:
		default:
		}
	}
	s.watchdog.Reset(s.stall)
}

func (s *pushSession) kill() {
	_ = s.proc.Kill()
	_ = s.proc.Wait()
	s.exited = true
}

func (s *pushSession) close() {
	s.closeOnce.Do(func() {
		s.watchdog.Stop()
		if !s.exited {
			s.kill()
		}
	})
}

// RemoteReference names local inside repositoryURI, keeping the local tag.
// Untagged or digest references push as latest.
func RemoteReference(local, repositoryURI string) (string, error) {
	ref, err := name.ParseReference(local)
	if err != nil {
		return "", errx.WrapSentinelWithContext(ErrInvalidRef, err,
			fmt.Sprintf("invalid local image reference %q", local),
			map[string]any{"image": local})
	}
	tag := name.DefaultTag
	if t, ok := ref.(name.Tag); ok {
		tag = t.TagStr()
	}
	repo, err := name.NewRepository(strings.TrimSpace(repositoryURI))
	if err != nil {
		return "", errx.WrapSentinelWithContext(ErrInvalidRef, err,
			fmt.Sprintf("invalid repository URI %q", repositoryURI),
			map[string]any{"repository_uri": repositoryURI})
	}
	return repo.Tag(tag).Name(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
