package ffmpeg

import (
	"fmt"
	"strings"
	"time"
)

// InvalidMediaError means a downloaded source could not be parsed as video.
type InvalidMediaError struct {
	URL    string
	Reason string
}

func (e *InvalidMediaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("not a valid video: %s (%s)", e.URL, e.Reason)
	}
	return fmt.Sprintf("not a valid video: %s", e.URL)
}

// ConcatError carries ffmpeg's own diagnostic output from a failed merge.
type ConcatError struct {
	Stderr string
	Err    error
}

func (e *ConcatError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return "concatenation failed: " + msg
}

func (e *ConcatError) Unwrap() error { return e.Err }

// TimeoutError is returned when an engine call outlives its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// TranscodeError wraps a failed encode with its stderr.
type TranscodeError struct {
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode: %v: %s", e.Err, lastLine(e.Stderr))
}

func (e *TranscodeError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
