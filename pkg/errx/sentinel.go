package errx

import (
	"errors"
	"sync"
)

type category struct {
	code        string
	description string
}

var (
	sentinelsMu sync.RWMutex
	sentinels   = make(map[error]category)
)

// NewSentinel creates a sentinel error in the given category. Declare
// sentinels in package-level var blocks.
func NewSentinel(msg, code, description string) error {
	err := errors.New(msg)
	sentinelsMu.Lock()
	sentinels[err] = category{code: code, description: description}
	sentinelsMu.Unlock()
	return err
}

// categoryOf returns the category registered for sentinel. Unknown or nil
// sentinels fall into the CLI category.
func categoryOf(sentinel error) category {
	sentinelsMu.RLock()
	c, ok := sentinels[sentinel]
	sentinelsMu.RUnlock()
	if !ok {
		return category{code: CodeCLI, description: DescCLI}
	}
	return c
}

func fromSentinel(sentinel, cause error, msg string) *Error {
	c := categoryOf(sentinel)
	return &Error{
		code:        c.code,
		description: c.description,
		message:     msg,
		cause:       cause,
		sentinel:    sentinel,
	}
}

// NewFromSentinel creates an error in the sentinel's category with msg.
func NewFromSentinel(sentinel error, msg string) error {
	return fromSentinel(sentinel, nil, msg)
}

// WrapSentinel wraps cause in the sentinel's category with msg.
func WrapSentinel(sentinel, cause error, msg string) error {
	return fromSentinel(sentinel, cause, msg)
}

// WrapSentinelWithContext is WrapSentinel plus structured context such as
// image references or registry endpoints.
func WrapSentinelWithContext(sentinel, cause error, msg string, context map[string]any) error {
	return fromSentinel(sentinel, cause, msg).WithContextMap(context)
}
