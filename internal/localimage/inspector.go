// Package localimage answers questions about images in the local docker
// daemon before anything is sent to the platform.
package localimage

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/pkg/errx"
)

var (
	ErrDockerUnavailable = errx.NewSentinel("docker is not available", errx.CodeImage, errx.DescImage)
	ErrInspectFailed     = errx.NewSentinel("failed to inspect image", errx.CodeImage, errx.DescImage)
)

// dockerAPI is the subset of the docker client used here.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	Close() error
}

// Inspector queries the local docker daemon.
type Inspector struct {
	api    dockerAPI
	logger *zap.Logger
}

// New connects to the daemon configured by the DOCKER_* environment.
func New(logger *zap.Logger) (*Inspector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errx.WrapSentinel(ErrDockerUnavailable, err, fmt.Sprintf("failed to create docker client: %v", err))
	}
	return newInspector(cli, logger), nil
}

func newInspector(api dockerAPI, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{api: api, logger: logger}
}

// Ping checks that the daemon answers.
func (i *Inspector) Ping(ctx context.Context) error {
	ping, err := i.api.Ping(ctx)
	if err != nil {
		return errx.WrapSentinel(ErrDockerUnavailable, err, fmt.Sprintf("docker daemon is not reachable: %v", err))
	}
	i.logger.Debug("Docker daemon reachable", zap.String("api_version", ping.APIVersion), zap.String("os", ping.OSType))
	return nil
}

// Exists reports whether ref is present locally.
func (i *Inspector) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := i.api.ImageInspect(ctx, ref)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, errx.WrapSentinelWithContext(ErrInspectFailed, err,
			fmt.Sprintf("failed to inspect image %s: %v", ref, err),
			map[string]any{"image": ref})
	}
	return true, nil
}

// Size returns the size of ref in bytes.
func (i *Inspector) Size(ctx context.Context, ref string) (int64, error) {
	resp, err := i.api.ImageInspect(ctx, ref)
	if err != nil {
		return 0, errx.WrapSentinelWithContext(ErrInspectFailed, err,
			fmt.Sprintf("failed to inspect image %s: %v", ref, err),
			map[string]any{"image": ref})
	}
	return resp.Size, nil
}

// Close releases the docker client.
func (i *Inspector) Close() error {
	return i.api.Close()
}
