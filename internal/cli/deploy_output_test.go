package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/internal/deploy"
	"github.com/Orcapt/orca-cli/internal/localimage"
	"github.com/Orcapt/orca-cli/internal/platform"
	"github.com/Orcapt/orca-cli/internal/registry"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

func stageFailure(stage deploy.Stage, cause error) error {
	return &deploy.Failure{Stage: stage, Err: cause}
}

func httpFailure(status int) error {
	return errx.WrapSentinel(platform.ErrHTTPStatus, &platform.HTTPError{StatusCode: status}, "platform API failed")
}

func TestFailureHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "not authenticated",
			err:  stageFailure(deploy.StageValidating, errx.NewFromSentinel(credentials.ErrNotAuthenticated, "not authenticated")),
			want: "orca login",
		},
		{
			name: "docker down",
			err:  stageFailure(deploy.StageValidating, errx.NewFromSentinel(localimage.ErrDockerUnavailable, "daemon down")),
			want: "Start Docker",
		},
		{
			name: "image missing",
			err:  stageFailure(deploy.StageValidating, errx.NewFromSentinel(deploy.ErrImageNotFound, "missing")),
			want: "docker images",
		},
		{
			name: "forbidden",
			err:  stageFailure(deploy.StageRequestingCredentials, httpFailure(403)),
			want: "rejected your credentials",
		},
		{
			name: "unauthorized",
			err:  stageFailure(deploy.StageRequestingCredentials, httpFailure(401)),
			want: "rejected your credentials",
		},
		{
			name: "server error has no hint",
			err:  stageFailure(deploy.StageRequestingCredentials, httpFailure(500)),
			want: "",
		},
		{
			name: "network",
			err: stageFailure(deploy.StageRequestingCredentials, errx.WrapSentinel(platform.ErrTransport,
				&platform.TransportError{Method: "POST", URL: "http://api", Err: errors.New("refused")}, "unreachable")),
			want: "ORCA_API_URL",
		},
		{
			name: "registry login",
			err:  stageFailure(deploy.StageAuthenticating, errx.NewFromSentinel(registry.ErrLoginFailed, "denied")),
			want: "short lived",
		},
		{
			name: "stalled",
			err:  stageFailure(deploy.StagePushing, errx.NewFromSentinel(registry.ErrPushStalled, "stalled")),
			want: "no progress",
		},
		{
			name: "push failed",
			err:  stageFailure(deploy.StagePushing, errx.NewFromSentinel(registry.ErrPushFailed, "denied")),
			want: "connection to the registry",
		},
		{
			name: "confirm",
			err:  stageFailure(deploy.StageConfirming, httpFailure(500)),
			want: "already in the registry",
		},
		{
			name: "interrupted while pushing",
			err:  stageFailure(deploy.StagePushing, errx.WrapSentinel(registry.ErrPushFailed, context.Canceled, "interrupted")),
			want: "partially pushed",
		},
		{
			name: "interrupted during login",
			err:  stageFailure(deploy.StageAuthenticating, errx.WrapSentinel(registry.ErrLoginFailed, context.Canceled, "interrupted")),
			want: "before anything was pushed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failureHint(tt.err)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestDeployObserverRendersStages(t *testing.T) {
	var buf bytes.Buffer
	obs := newDeployObserver(&Printer{Out: &buf})

	obs.StageChanged(deploy.StageValidating)
	obs.StageChanged(deploy.StageRequestingCredentials)
	obs.StageChanged(deploy.StageAuthenticating)
	obs.StageChanged(deploy.StageAuthenticating)
	obs.StageChanged(deploy.StageTagging)
	obs.StageChanged(deploy.StagePushing)
	obs.Progress(registry.Progress{Percent: 0, TotalLayers: 2})
	obs.Progress(registry.Progress{Percent: 50, CompletedLayers: 1, TotalLayers: 2})
	obs.Progress(registry.Progress{Percent: 100, CompletedLayers: 2, TotalLayers: 2})
	obs.StageChanged(deploy.StageConfirming)
	obs.StageChanged(deploy.StageDone)

	out := buf.String()
	for _, label := range stageLabels {
		assert.Contains(t, out, label)
	}
	assert.Equal(t, 1, strings.Count(out, "→ Authenticating with registry"))
	assert.Contains(t, out, "Pushing image  50% (1/2 layers)")
	assert.Contains(t, out, "Pushing image 100% (2/2 layers)")
	assert.NotContains(t, out, "failed")
}

func TestDeployObserverFail(t *testing.T) {
	var buf bytes.Buffer
	obs := newDeployObserver(&Printer{Out: &buf})

	obs.StageChanged(deploy.StageRequestingCredentials)
	obs.Fail()
	obs.Fail()

	assert.Equal(t, 1, strings.Count(buf.String(), "Requesting upload credentials failed"))
}

func TestDeployObserverIgnoresProgressOutsidePush(t *testing.T) {
	var buf bytes.Buffer
	obs := newDeployObserver(&Printer{Out: &buf})

	obs.StageChanged(deploy.StageTagging)
	obs.Progress(registry.Progress{Percent: 40, TotalLayers: 1})

	assert.NotContains(t, buf.String(), "40%")
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&Printer{Out: &buf}, &deploy.Result{
		FunctionName:   "hello-fn",
		ImageURI:       "123456789012.dkr.ecr.us-east-1.amazonaws.com/hello:latest",
		MemoryMB:       512,
		TimeoutSeconds: 60,
		InvokeURL:      "https://hello.example.com",
		ImageSizeBytes: 5 * 1024 * 1024,
	})

	out := buf.String()
	assert.Contains(t, out, "Function hello-fn deployed")
	assert.Contains(t, out, unknownRegion)
	assert.Contains(t, out, "512 MB")
	assert.Contains(t, out, "60s")
	assert.Contains(t, out, "5.0 MB")
	assert.Contains(t, out, "https://hello.example.com")
	assert.NotContains(t, out, "Queue URL")
}

func TestRenderFailure(t *testing.T) {
	var buf bytes.Buffer
	err := stageFailure(deploy.StageConfirming, errx.WrapSentinel(deploy.ErrConfirm, httpFailure(500),
		"image repo:latest was pushed but the deployment could not be confirmed"))

	renderFailure(&Printer{Out: &buf}, err)

	out := buf.String()
	assert.Contains(t, out, "Deployment failed while confirming")
	assert.Contains(t, out, "was pushed")
	assert.Contains(t, out, "already in the registry")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 B"},
		{in: 1023, want: "1023 B"},
		{in: 1024, want: "1.0 KB"},
		{in: 1536, want: "1.5 KB"},
		{in: 3 * 1024 * 1024 * 1024, want: "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
