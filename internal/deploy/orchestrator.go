// Package deploy runs the ship pipeline: validate the local image, request
// upload credentials, publish the image to the registry and confirm the
// deployment with the platform.
package deploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/internal/platform"
	"github.com/Orcapt/orca-cli/internal/registry"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Stage is a step of the deployment. Stages run in declaration order.
type Stage int

const (
	StageValidating Stage = iota
	StageRequestingCredentials
	StageAuthenticating
	StageTagging
	StagePushing
	StageConfirming
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageRequestingCredentials:
		return "requesting credentials"
	case StageAuthenticating:
		return "authenticating"
	case StageTagging:
		return "tagging"
	case StagePushing:
		return "pushing"
	case StageConfirming:
		return "confirming"
	case StageDone:
		return "done"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// LocalImages answers questions about the local docker daemon.
type LocalImages interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, ref string) (bool, error)
	Size(ctx context.Context, ref string) (int64, error)
}

// Publisher pushes a local image to a registry.
type Publisher interface {
	Publish(ctx context.Context, req registry.PublishRequest, onStep func(registry.Step), onProgress func(registry.Progress)) (string, error)
}

// API performs authenticated platform requests.
type API interface {
	Request(ctx context.Context, method, path string, creds credentials.Bundle, body, out any) error
}

// CredentialSource supplies the workspace credential bundle.
type CredentialSource interface {
	Load() (*credentials.Bundle, error)
}

// Observer is told about stage changes and push progress.
type Observer interface {
	StageChanged(stage Stage)
	Progress(p registry.Progress)
}

// DeploymentRequest is the platform's answer to a credentials request.
// The registry credentials are short lived and used for one deploy only.
type DeploymentRequest struct {
	ECRURL        string `json:"ecr_url"`
	ECRUsername   string `json:"ecr_username"`
	ECRPassword   string `json:"ecr_password"`
	RepositoryURI string `json:"repository_uri"`
	DeploymentID  string `json:"deployment_id"`
}

type credentialsRequest struct {
	FunctionName   string            `json:"function_name"`
	ImageTag       string            `json:"image_tag"`
	MemoryMB       int               `json:"memory_mb"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Environment    map[string]string `json:"environment_vars"`
}

type confirmRequest struct {
	DeploymentID string `json:"deployment_id"`
	FunctionName string `json:"function_name"`
	ImageURI     string `json:"image_uri"`
}

type confirmResponse struct {
	InvokeURL string `json:"invoke_url"`
	QueueURL  string `json:"sqs_queue_url"`
	Region    string `json:"region"`
}

// Result describes a finished deployment. InvokeURL, QueueURL and Region are
// empty when the platform did not report them.
type Result struct {
	FunctionName   string
	ImageURI       string
	Region         string
	MemoryMB       int
	TimeoutSeconds int
	InvokeURL      string
	QueueURL       string
	DeploymentID   string
	ImageSizeBytes int64
}

// Options holds the endpoint paths and default limits.
type Options struct {
	DeployPath            string
	ConfirmPath           string
	DefaultMemoryMB       int
	DefaultTimeoutSeconds int
}

func (o Options) withDefaults() Options {
	if o.DeployPath == "" {
		o.DeployPath = platform.PathDeploy
	}
	if o.ConfirmPath == "" {
		o.ConfirmPath = platform.PathDeployConfirm
	}
	if o.DefaultMemoryMB <= 0 {
		o.DefaultMemoryMB = DefaultMemoryMB
	}
	if o.DefaultTimeoutSeconds <= 0 {
		o.DefaultTimeoutSeconds = DefaultTimeoutSeconds
	}
	return o
}

// Orchestrator runs deployments. It keeps no state between Deploy calls.
type Orchestrator struct {
	images    LocalImages
	publisher Publisher
	api       API
	creds     CredentialSource
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator wires the collaborators of a deployment.
func NewOrchestrator(images LocalImages, publisher Publisher, api API, creds CredentialSource, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		images:    images,
		publisher: publisher,
		api:       api,
		creds:     creds,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// deployment is the state of one Deploy call.
type deployment struct {
	o        *Orchestrator
	cfg      Config
	observer Observer
	stage    Stage
	bundle   credentials.Bundle
}

func (d *deployment) enter(stage Stage) {
	d.stage = stage
	d.o.logger.Debug("Deployment stage", zap.String("function", d.cfg.FunctionName), zap.Stringer("stage", stage))
	if d.observer != nil {
		d.observer.StageChanged(stage)
	}
}

func (d *deployment) fail(cause error, msg string) error {
	err := errx.WrapSentinelWithContext(stageSentinel(d.stage), cause, msg, map[string]any{
		"function":  d.cfg.FunctionName,
		"image":     d.cfg.Image,
		"stage":     d.stage.String(),
		"component": "deploy",
	})
	d.o.logger.Debug("Deployment failed", append(errx.Fields(err), zap.Stringer("stage", d.stage))...)
	return &Failure{Stage: d.stage, Err: err}
}

// Deploy runs every stage in order and stops at the first failure, which is
// returned as a *Failure. Nothing is rolled back: an image pushed before a
// failed confirmation stays in the registry. observer may be nil.
func (o *Orchestrator) Deploy(ctx context.Context, cfg Config, observer Observer) (*Result, error) {
	d := &deployment{o: o, cfg: cfg.withDefaults(o.opts.DefaultMemoryMB, o.opts.DefaultTimeoutSeconds), observer: observer}
	o.logger.Info("Deploying function",
		zap.String("function", d.cfg.FunctionName),
		zap.String("image", d.cfg.Image),
		zap.Int("memory_mb", d.cfg.MemoryMB),
		zap.Int("timeout_seconds", d.cfg.TimeoutSeconds),
		zap.Int("env_vars", len(d.cfg.Environment)),
	)

	d.enter(StageValidating)
	imageTag, size, err := d.validate(ctx)
	if err != nil {
		return nil, err
	}

	d.enter(StageRequestingCredentials)
	req, remote, err := d.requestCredentials(ctx, imageTag)
	if err != nil {
		return nil, err
	}

	d.enter(StageAuthenticating)
	pushed, err := d.publish(ctx, req)
	if err != nil {
		return nil, err
	}
	if pushed != remote {
		o.logger.Debug("Registry reported a different reference", zap.String("expected", remote), zap.String("pushed", pushed))
	}

	d.enter(StageConfirming)
	confirm, err := d.confirm(ctx, req.DeploymentID, pushed)
	if err != nil {
		return nil, err
	}

	d.enter(StageDone)
	o.logger.Info("Function deployed", zap.String("function", d.cfg.FunctionName), zap.String("image_uri", pushed))
	return &Result{
		FunctionName:   d.cfg.FunctionName,
		ImageURI:       pushed,
		Region:         confirm.Region,
		MemoryMB:       d.cfg.MemoryMB,
		TimeoutSeconds: d.cfg.TimeoutSeconds,
		InvokeURL:      confirm.InvokeURL,
		QueueURL:       confirm.QueueURL,
		DeploymentID:   req.DeploymentID,
		ImageSizeBytes: size,
	}, nil
}

// validate runs the local checks. No network request is made before they
// pass.
func (d *deployment) validate(ctx context.Context) (string, int64, error) {
	if err := d.cfg.Validate(); err != nil {
		return "", 0, d.fail(err, errx.UserString(err))
	}
	tag, err := imageTag(d.cfg.Image)
	if err != nil {
		return "", 0, d.fail(err, fmt.Sprintf("invalid image reference %q: %v", d.cfg.Image, err))
	}
	bundle, err := d.o.creds.Load()
	if err != nil {
		return "", 0, d.fail(err, errx.UserString(err))
	}
	d.bundle = *bundle

	if err := d.o.images.Ping(ctx); err != nil {
		return "", 0, d.fail(err, errx.UserString(err))
	}
	ok, err := d.o.images.Exists(ctx, d.cfg.Image)
	if err != nil {
		return "", 0, d.fail(err, errx.UserString(err))
	}
	if !ok {
		missing := errx.NewFromSentinel(ErrImageNotFound, fmt.Sprintf("image %s not found locally", d.cfg.Image))
		return "", 0, d.fail(missing, errx.UserString(missing))
	}
	size, err := d.o.images.Size(ctx, d.cfg.Image)
	if err != nil {
		d.o.logger.Debug("Could not read image size", zap.String("image", d.cfg.Image), zap.Error(err))
	} else {
		d.o.logger.Info("Local image found", zap.String("image", d.cfg.Image), zap.Int64("size_bytes", size))
	}
	return tag, size, nil
}

func (d *deployment) requestCredentials(ctx context.Context, tag string) (*DeploymentRequest, string, error) {
	var req DeploymentRequest
	body := credentialsRequest{
		FunctionName:   d.cfg.FunctionName,
		ImageTag:       tag,
		MemoryMB:       d.cfg.MemoryMB,
		TimeoutSeconds: d.cfg.TimeoutSeconds,
		Environment:    d.cfg.Environment,
	}
	if err := d.o.api.Request(ctx, http.MethodPost, d.o.opts.DeployPath, d.bundle, body, &req); err != nil {
		return nil, "", d.fail(err, fmt.Sprintf("credential request failed: %s", errx.UserString(err)))
	}

	var missing []string
	if strings.TrimSpace(req.ECRURL) == "" {
		missing = append(missing, "ecr_url")
	}
	if strings.TrimSpace(req.RepositoryURI) == "" {
		missing = append(missing, "repository_uri")
	}
	if len(missing) > 0 {
		invalid := errx.NewFromSentinel(ErrInvalidCredentialReply,
			fmt.Sprintf("credentials response is missing %s", strings.Join(missing, ", ")))
		return nil, "", d.fail(invalid, errx.UserString(invalid))
	}
	remote, err := registry.RemoteReference(d.cfg.Image, req.RepositoryURI)
	if err != nil {
		invalid := errx.WrapSentinel(ErrInvalidCredentialReply, err, errx.UserString(err))
		return nil, "", d.fail(invalid, errx.UserString(invalid))
	}
	d.o.logger.Info("Upload credentials received",
		zap.String("registry", req.ECRURL),
		zap.String("repository_uri", req.RepositoryURI),
		zap.String("deployment_id", req.DeploymentID),
	)
	return &req, remote, nil
}

func (d *deployment) publish(ctx context.Context, req *DeploymentRequest) (string, error) {
	onStep := func(step registry.Step) {
		switch step {
		case registry.StepLogin:
			if d.stage != StageAuthenticating {
				d.enter(StageAuthenticating)
			}
		case registry.StepTag:
			d.enter(StageTagging)
		case registry.StepPush:
			d.enter(StagePushing)
		}
	}
	onProgress := func(p registry.Progress) {
		if d.observer != nil {
			d.observer.Progress(p)
		}
	}
	pushed, err := d.o.publisher.Publish(ctx, registry.PublishRequest{
		LocalImage:    d.cfg.Image,
		Endpoint:      req.ECRURL,
		Username:      req.ECRUsername,
		Password:      req.ECRPassword,
		RepositoryURI: req.RepositoryURI,
	}, onStep, onProgress)
	if err != nil {
		return "", d.fail(err, errx.UserString(err))
	}
	return pushed, nil
}

func (d *deployment) confirm(ctx context.Context, deploymentID, imageURI string) (*confirmResponse, error) {
	var resp confirmResponse
	body := confirmRequest{
		DeploymentID: deploymentID,
		FunctionName: d.cfg.FunctionName,
		ImageURI:     imageURI,
	}
	if err := d.o.api.Request(ctx, http.MethodPost, d.o.opts.ConfirmPath, d.bundle, body, &resp); err != nil {
		return nil, d.fail(err, fmt.Sprintf("image %s was pushed but the deployment could not be confirmed: %s",
			imageURI, errx.UserString(err)))
	}
	return &resp, nil
}

// imageTag returns the tag of a local image reference, latest when untagged.
func imageTag(ref string) (string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", err
	}
	if t, ok := parsed.(name.Tag); ok {
		return t.TagStr(), nil
	}
	return name.DefaultTag, nil
}
