package tasks

import "fmt"

// Result is the tagged outcome of a tool handler.
// Handlers never return Go errors to the model; every failure becomes a Fail.
type Result struct {
	ok   bool
	text string
}

// Ok wraps a successful display text.
func Ok(text string) Result { return Result{ok: true, text: text} }

// Okf formats a successful display text.
func Okf(format string, args ...any) Result { return Ok(fmt.Sprintf(format, args...)) }

// Fail wraps a failure reason.
func Fail(reason string) Result { return Result{ok: false, text: reason} }

// Failf formats a failure reason.
func Failf(format string, args ...any) Result { return Fail(fmt.Sprintf(format, args...)) }

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.ok }

// Display renders the result for the model. Failures are prefixed with "Error: ".
func (r Result) Display() string {
	if r.ok {
		return r.text
	}
	return "Error: " + r.text
}
