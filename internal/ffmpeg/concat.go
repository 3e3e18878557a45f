package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Concat joins paths in order into outputPath with the concat demuxer and
// stream copy. The manifest it writes is removed on every return path.
func (e *Engine) Concat(ctx context.Context, paths []string, outputPath string) error {
	if len(paths) == 0 {
		return errors.New("concat: no inputs")
	}

	manifest, err := writeManifest(filepath.Dir(paths[0]), paths)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(manifest); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn().Err(err).Str("manifest", manifest).Msg("failed to remove concat manifest")
		}
	}()

	res, err := e.run(ctx, "concat", e.opts.ConcatTimeout, e.opts.FFmpegPath,
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-c", "copy",
		outputPath,
	)
	if err != nil {
		return &ConcatError{Stderr: res.Stderr, Err: err}
	}
	if _, err := os.Stat(outputPath); err != nil {
		return &ConcatError{Err: fmt.Errorf("output missing: %w", err)}
	}
	return nil
}

func writeManifest(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat manifest: %w", err)
	}
	if _, err := f.WriteString(manifestBody(paths)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// manifestBody renders the concat demuxer list. Single quotes inside a path
// are closed, escaped and reopened.
func manifestBody(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
