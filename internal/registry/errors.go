package registry

import "github.com/Orcapt/orca-cli/pkg/errx"

// Each publish step fails with its own sentinel so callers can tell which
// step broke with errors.Is.
var (
	ErrLoginFailed  = errx.NewSentinel("registry login failed", errx.CodeAuth, errx.DescAuth)
	ErrLoginTimeout = errx.NewSentinel("registry login timed out", errx.CodeAuth, errx.DescAuth)
	ErrTagFailed    = errx.NewSentinel("failed to tag image", errx.CodeRegistry, errx.DescRegistry)
	ErrPushFailed   = errx.NewSentinel("failed to push image", errx.CodeRegistry, errx.DescRegistry)
	ErrPushStalled  = errx.NewSentinel("image push stalled", errx.CodeRegistry, errx.DescRegistry)
	ErrInvalidRef   = errx.NewSentinel("invalid image reference", errx.CodeRegistry, errx.DescRegistry)
)
