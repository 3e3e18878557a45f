package compress

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoDuration = errors.New("input duration unavailable")

// AttemptError is one failed or timed out ladder step. The search absorbs it
// and moves to the next step.
type AttemptError struct {
	Step int
	Err  error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Step, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError means the search produced no usable file at all.
type ExhaustedError struct {
	Cause    error
	Attempts []error
}

func (e *ExhaustedError) Error() string {
	if e.Cause != nil {
		return "compression failed: " + e.Cause.Error()
	}
	msgs := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		msgs[i] = err.Error()
	}
	return "compression failed: all attempts failed: " + strings.Join(msgs, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause != nil {
		return append([]error{e.Cause}, e.Attempts...)
	}
	return e.Attempts
}
