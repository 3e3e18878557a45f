// Package ffmpeg wraps the external ffmpeg/ffprobe binaries: media probing,
// lossless concatenation, bounded re-encodes and an availability check.
// Every invocation is time-bounded and its stderr captured for diagnostics.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/metrics"
)

type Options struct {
	FFmpegPath    string
	FFprobePath   string
	ProbeTimeout  time.Duration
	ConcatTimeout time.Duration
	EncodeTimeout time.Duration
}

// Engine runs ffmpeg and ffprobe as child processes.
type Engine struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Engine {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.ConcatTimeout <= 0 {
		opts.ConcatTimeout = 10 * time.Minute
	}
	if opts.EncodeTimeout <= 0 {
		opts.EncodeTimeout = 300 * time.Second
	}
	return &Engine{opts: opts, log: log}
}

// waitDelay bounds how long Wait lingers on inherited pipes after a kill.
const waitDelay = 2 * time.Second

type runResult struct {
	Stdout []byte
	Stderr string
}

// run executes one binary under its own deadline. A deadline hit is
// reported as *TimeoutError so callers can tell it apart from a failed exit.
func (e *Engine) run(ctx context.Context, op string, timeout time.Duration, bin string, args ...string) (runResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := runResult{Stdout: stdout.Bytes(), Stderr: stderr.String()}

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = "timeout"
		err = &TimeoutError{Op: op, Timeout: timeout}
	case ctx.Err() != nil:
		status = "cancelled"
		err = fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		status = "error"
		err = fmt.Errorf("%s: %w", op, err)
	}
	metrics.FFmpegInvocations.WithLabelValues(op, status).Inc()
	e.log.Debug().Str("op", op).Str("status", status).Dur("took", time.Since(start)).Msg("engine call")
	return res, err
}
