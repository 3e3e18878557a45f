package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is what the pipeline needs to know about a media file.
type ProbeResult struct {
	Valid      bool
	Duration   float64
	FormatName string
	HasVideo   bool
	HasAudio   bool
	Size       int64
}

// Probe runs a single ffprobe JSON call against path. A file ffprobe cannot
// parse yields Valid=false and a nil error; only engine-level problems
// (missing binary, timeout) are returned as errors.
func (e *Engine) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res, err := e.run(ctx, "probe", e.opts.ProbeTimeout, e.opts.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProbeResult{Valid: false}, nil
		}
		return nil, err
	}
	return ParseProbeJSON(res.Stdout)
}

// Duration returns the container duration in seconds, or an error when the
// file has none.
func (e *Engine) Duration(ctx context.Context, path string) (float64, error) {
	pr, err := e.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if !pr.Valid || pr.Duration <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", path)
	}
	return pr.Duration, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
}

// ParseProbeJSON converts raw ffprobe output into a ProbeResult.
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{
		FormatName: raw.Format.FormatName,
		Duration:   parseFloat(raw.Format.Duration),
		Size:       parseInt64(raw.Format.Size),
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			pr.HasVideo = true
			// Some containers only report duration per stream.
			if pr.Duration <= 0 {
				pr.Duration = parseFloat(s.Duration)
			}
		case "audio":
			pr.HasAudio = true
		}
	}
	pr.Valid = pr.FormatName != "" && len(raw.Streams) > 0 && pr.HasVideo
	return pr, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
