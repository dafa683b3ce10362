package deploy

import (
	"errors"
	"fmt"

	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Stage sentinels. Every deploy failure matches exactly one of them with
// errors.Is.
var (
	ErrValidation        = errx.NewSentinel("deployment validation failed", errx.CodeCLI, errx.DescCLI)
	ErrCredentialRequest = errx.NewSentinel("failed to obtain upload credentials", errx.CodeAPI, errx.DescAPI)
	ErrAuthentication    = errx.NewSentinel("registry authentication failed", errx.CodeAuth, errx.DescAuth)
	ErrTag               = errx.NewSentinel("image tagging failed", errx.CodeRegistry, errx.DescRegistry)
	ErrPush              = errx.NewSentinel("image push failed", errx.CodeRegistry, errx.DescRegistry)
	ErrConfirm           = errx.NewSentinel("deployment confirmation failed", errx.CodeDeploy, errx.DescDeploy)
)

// Specific causes.
var (
	ErrFunctionNameRequired   = errx.NewSentinel("function name is required", errx.CodeCLI, errx.DescCLI)
	ErrImageRequired          = errx.NewSentinel("image is required", errx.CodeCLI, errx.DescCLI)
	ErrInvalidLimits          = errx.NewSentinel("invalid resource limits", errx.CodeCLI, errx.DescCLI)
	ErrInvalidEnv             = errx.NewSentinel("invalid environment variable", errx.CodeCLI, errx.DescCLI)
	ErrEnvFile                = errx.NewSentinel("failed to read env file", errx.CodeConfig, errx.DescConfig)
	ErrImageNotFound          = errx.NewSentinel("local image not found", errx.CodeImage, errx.DescImage)
	ErrInvalidCredentialReply = errx.NewSentinel("invalid credentials response", errx.CodeAPI, errx.DescAPI)
)

// Failure is the absorbing failed state: the stage that failed and why.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailedStage returns the stage err failed in.
func FailedStage(err error) (Stage, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Stage, true
	}
	return 0, false
}

func stageSentinel(stage Stage) error {
	switch stage {
	case StageRequestingCredentials:
		return ErrCredentialRequest
	case StageAuthenticating:
		return ErrAuthentication
	case StageTagging:
		return ErrTag
	case StagePushing:
		return ErrPush
	case StageConfirming:
		return ErrConfirm
	}
	return ErrValidation
}
