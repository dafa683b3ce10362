package cli

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/pkg/errx"
)

var (
	debugMode   bool
	debugModeMu sync.RWMutex
)

// SetDebugMode sets the global debug mode flag.
// When enabled, logStructuredError writes structured error logs.
func SetDebugMode(enabled bool) {
	debugModeMu.Lock()
	defer debugModeMu.Unlock()
	debugMode = enabled
}

// IsDebugMode returns whether debug mode is enabled.
func IsDebugMode() bool {
	debugModeMu.RLock()
	defer debugModeMu.RUnlock()
	return debugMode
}

// Sentinel errors for command handling.
var (
	ErrFieldRequired      = errx.NewSentinel("field is required", errx.CodeCLI, errx.DescCLI)
	ErrInvalidMode        = errx.NewSentinel("invalid mode", errx.CodeCLI, errx.DescCLI)
	ErrDeployFailed       = errx.NewSentinel("deployment failed", errx.CodeDeploy, errx.DescDeploy)
	ErrListLambdasFailed  = errx.NewSentinel("failed to list functions", errx.CodeAPI, errx.DescAPI)
	ErrGetLambdaFailed    = errx.NewSentinel("failed to get function", errx.CodeAPI, errx.DescAPI)
	ErrDeleteLambdaFailed = errx.NewSentinel("failed to delete function", errx.CodeAPI, errx.DescAPI)
	ErrSaveCredentials    = errx.NewSentinel("failed to save credentials", errx.CodeConfig, errx.DescConfig)
)

// logStructuredError logs err with its errx code, category and context.
// Only logs in debug mode; the console encoder keeps it readable.
func logStructuredError(logger *zap.Logger, err error, msg string) {
	if logger == nil || err == nil || !IsDebugMode() {
		return
	}
	logger.Error(msg, errx.Fields(err)...)
}
