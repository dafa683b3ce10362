package errx

import "errors"

// Error is an orca error. It carries the category of the sentinel it was
// built from, a user-facing message, optional structured context and the
// underlying cause.
type Error struct {
	code        string
	description string
	message     string
	context     map[string]any
	cause       error
	sentinel    error
}

// Error returns the message, falling back to the category.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	if e.description != "" {
		return e.description
	}
	return e.code
}

// Unwrap returns the cause. The sentinel is matched by Is instead, so that
// errors.As walks only real causes.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches the sentinel e was built from.
func (e *Error) Is(target error) bool {
	return e != nil && e.sentinel != nil && e.sentinel == target
}

func (e *Error) Code() string        { return e.code }
func (e *Error) Description() string { return e.description }
func (e *Error) Message() string     { return e.message }
func (e *Error) Cause() error        { return e.cause }

// Context returns a copy of the structured context, or nil when empty.
func (e *Error) Context() map[string]any {
	if len(e.context) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// WithContextMap returns a copy of e with ctx merged over its context.
func (e *Error) WithContextMap(ctx map[string]any) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.context = e.Context()
	if len(ctx) > 0 && clone.context == nil {
		clone.context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		clone.context[k] = v
	}
	return &clone
}

// IsError reports whether err is or wraps an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
