// Package errx provides the coded errors the orca CLI reports.
//
// Each package declares its failures once as sentinels in a category:
//
//	var ErrPushFailed = errx.NewSentinel("failed to push image", errx.CodeRegistry, errx.DescRegistry)
//
// and builds concrete errors from them, with a message for the user, the
// underlying cause and optional structured context:
//
//	err := errx.WrapSentinelWithContext(ErrPushFailed, exitErr, "failed to push image: denied",
//		map[string]any{"target": ref})
//
// errors.Is matches both the sentinel and anything in the cause chain.
// UserString gives the message to print, DebugString the full chain with
// codes and context, and Fields the same as zap fields.
//
// Codes by domain:
//   - 70xxx: CLI/argument validation
//   - 71xxx: authentication and credentials
//   - 72xxx: registry (login, tag, push)
//   - 73xxx: platform API
//   - 74xxx: deployment
//   - 75xxx: local image
//   - 79xxx: configuration
package errx
