package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrFFmpegNotFound  = errors.New("ffmpeg not found")
	ErrFFprobeNotFound = errors.New("ffprobe not found")
)

type Health struct {
	FFmpeg  bool   `json:"ffmpeg"`
	FFprobe bool   `json:"ffprobe"`
	Version string `json:"version,omitempty"`
}

func (h Health) OK() bool { return h.FFmpeg && h.FFprobe }

const checkTimeout = 5 * time.Second

// Check reports whether both binaries are reachable and returns the first
// line of `ffmpeg -version`. Each binary is looked up on its own so the
// report is accurate even when only one is missing.
func (e *Engine) Check(ctx context.Context) (Health, error) {
	var (
		h    Health
		errs []error
	)

	if _, err := exec.LookPath(e.opts.FFprobePath); err != nil {
		errs = append(errs, ErrFFprobeNotFound)
	} else {
		h.FFprobe = true
	}

	if _, err := exec.LookPath(e.opts.FFmpegPath); err != nil {
		errs = append(errs, ErrFFmpegNotFound)
	} else if res, err := e.run(ctx, "version", checkTimeout, e.opts.FFmpegPath, "-version"); err != nil {
		errs = append(errs, err)
	} else {
		h.FFmpeg = true
		h.Version = firstLine(string(res.Stdout))
	}

	return h, errors.Join(errs...)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
