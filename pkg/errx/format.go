package errx

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxChain bounds the causes DebugString prints.
const maxChain = 32

// UserString returns the message of the outermost *Error in err, or
// err.Error() when there is none.
func UserString(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// DebugString renders err and its causes one per line, with codes and
// context for orca errors:
//
//	[72000 Registry error] failed to push image: denied {component=registry}
//	  caused by: *exec.ExitError: exit status 1
func DebugString(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	for i, cur := range causes(err) {
		if i > 0 {
			b.WriteString("\n  caused by: ")
		}
		e, ok := cur.(*Error)
		if !ok {
			fmt.Fprintf(&b, "%T: %s", cur, cur.Error())
			continue
		}
		fmt.Fprintf(&b, "[%s %s] %s", e.code, e.description, e.Error())
		if len(e.context) > 0 {
			fmt.Fprintf(&b, " {%s}", formatContext(e.context))
		}
	}
	return b.String()
}

// causes lists err and everything it wraps, breadth first.
func causes(err error) []error {
	var out []error
	queue := []error{err}
	for len(queue) > 0 && len(out) < maxChain {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil {
			continue
		}
		out = append(out, cur)
		switch u := cur.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		}
	}
	return out
}

func formatContext(ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, ctx[k])
	}
	return strings.Join(parts, ", ")
}
