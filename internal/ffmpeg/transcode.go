package ffmpeg

import (
	"context"
	"errors"
	"strconv"
)

// EncodeParams is one re-encode configuration. Bitrates are in kbps.
type EncodeParams struct {
	CRF       int
	Preset    string
	VideoKbps int
	AudioKbps int
}

// Args builds the ffmpeg argument list (without the binary) for an H.264/AAC
// re-encode capped at the requested bitrate.
func (p EncodeParams) Args(input, output string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-i", input,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
	}
	if p.VideoKbps > 0 {
		args = append(args,
			"-b:v", kbps(p.VideoKbps),
			"-maxrate", kbps(p.VideoKbps*6/5),
			"-bufsize", kbps(p.VideoKbps*2),
		)
	}
	args = append(args, "-c:a", "aac")
	if p.AudioKbps > 0 {
		args = append(args, "-b:a", kbps(p.AudioKbps))
	}
	return append(args,
		"-movflags", "+faststart",
		"-threads", "0",
		output,
	)
}

func kbps(n int) string {
	return strconv.Itoa(n) + "k"
}

// Transcode re-encodes input into output, bounded by the encode timeout.
// A timeout comes back as *TimeoutError, any other failure as *TranscodeError.
func (e *Engine) Transcode(ctx context.Context, input, output string, p EncodeParams) error {
	res, err := e.run(ctx, "transcode", e.opts.EncodeTimeout, e.opts.FFmpegPath, p.Args(input, output)...)
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	return &TranscodeError{Stderr: res.Stderr, Err: err}
}
