// Package compress searches for an encode that fits a size budget by walking
// a ladder of increasingly aggressive settings.
package compress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/metrics"
)

type Transcoder interface {
	Transcode(ctx context.Context, input, output string, p ffmpeg.EncodeParams) error
}

type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Attempt records one ladder step.
type Attempt struct {
	Step   int
	Params ffmpeg.EncodeParams
	Path   string
	SizeMB float64
	Err    error
}

// Result describes the file Compress settled on. Skipped is set when the
// input already fit and nothing was encoded.
type Result struct {
	Path           string
	SizeMB         float64
	OriginalSizeMB float64
	Attempts       int
	TargetMet      bool
	Skipped        bool
	Tried          []Attempt
}

type Searcher struct {
	tc     Transcoder
	probe  DurationProber
	ladder Ladder
	log    zerolog.Logger
}

func NewSearcher(tc Transcoder, probe DurationProber, ladder Ladder, log zerolog.Logger) (*Searcher, error) {
	if ladder == nil {
		ladder = DefaultLadder
	}
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	return &Searcher{tc: tc, probe: probe, ladder: ladder, log: log}, nil
}

// Compress re-encodes inputPath into workDir until a result fits targetMB.
// The first fitting attempt wins. When none fits, the smallest successful
// attempt is returned with TargetMet=false. Only the returned file is kept;
// every other attempt output is removed. An *ExhaustedError is returned when
// no attempt produced a file.
func (s *Searcher) Compress(ctx context.Context, inputPath, workDir string, targetMB float64) (*Result, error) {
	origMB, err := FileSizeMB(inputPath)
	if err != nil {
		return nil, &ExhaustedError{Cause: err}
	}
	if origMB <= targetMB {
		return &Result{Path: inputPath, SizeMB: origMB, OriginalSizeMB: origMB, TargetMet: true, Skipped: true}, nil
	}

	duration, err := s.probe.Duration(ctx, inputPath)
	if err != nil {
		return nil, &ExhaustedError{Cause: fmt.Errorf("%w: %v", ErrNoDuration, err)}
	}
	base, err := Budget(targetMB, duration)
	if err != nil {
		return nil, &ExhaustedError{Cause: fmt.Errorf("%w: %v", ErrNoDuration, err)}
	}

	s.log.Info().
		Float64("original_mb", origMB).
		Float64("target_mb", targetMB).
		Float64("duration", duration).
		Int("video_kbps", base.VideoKbps).
		Int("audio_kbps", base.AudioKbps).
		Msg("starting compression search")

	var (
		tried    []Attempt
		failures []error
		best     *Attempt
	)
	for i, step := range s.ladder {
		if err := ctx.Err(); err != nil {
			discard(best)
			return nil, err
		}

		br := base.Scale(step)
		a := Attempt{
			Step: i + 1,
			Params: ffmpeg.EncodeParams{
				CRF:       step.CRF,
				Preset:    step.Preset,
				VideoKbps: br.VideoKbps,
				AudioKbps: br.AudioKbps,
			},
			Path: filepath.Join(workDir, fmt.Sprintf("attempt-%d.mp4", i+1)),
		}
		label := strconv.Itoa(a.Step)

		if err := s.tc.Transcode(ctx, inputPath, a.Path, a.Params); err != nil {
			a.Err = &AttemptError{Step: a.Step, Err: err}
			removeQuiet(a.Path)
			tried = append(tried, a)
			failures = append(failures, a.Err)
			metrics.CompressionAttempts.WithLabelValues(label, "error").Inc()
			s.log.Warn().Err(err).Int("step", a.Step).Msg("compression attempt failed")
			if errors.Is(err, context.Canceled) {
				discard(best)
				return nil, err
			}
			continue
		}

		size, err := FileSizeMB(a.Path)
		if err != nil {
			a.Err = &AttemptError{Step: a.Step, Err: err}
			tried = append(tried, a)
			failures = append(failures, a.Err)
			metrics.CompressionAttempts.WithLabelValues(label, "error").Inc()
			continue
		}
		a.SizeMB = size
		tried = append(tried, a)

		if size <= targetMB {
			metrics.CompressionAttempts.WithLabelValues(label, "fit").Inc()
			discard(best)
			s.log.Info().Int("step", a.Step).Float64("size_mb", size).Msg("compression target met")
			return &Result{
				Path:           a.Path,
				SizeMB:         size,
				OriginalSizeMB: origMB,
				Attempts:       len(tried),
				TargetMet:      true,
				Tried:          tried,
			}, nil
		}

		metrics.CompressionAttempts.WithLabelValues(label, "oversize").Inc()
		s.log.Info().Int("step", a.Step).Float64("size_mb", size).Msg("attempt still over target")
		if best == nil || size < best.SizeMB {
			discard(best)
			kept := a
			best = &kept
		} else {
			removeQuiet(a.Path)
		}
	}

	if best == nil {
		return nil, &ExhaustedError{Attempts: failures}
	}
	return &Result{
		Path:           best.Path,
		SizeMB:         best.SizeMB,
		OriginalSizeMB: origMB,
		Attempts:       len(tried),
		TargetMet:      false,
		Tried:          tried,
	}, nil
}

func discard(a *Attempt) {
	if a != nil {
		removeQuiet(a.Path)
	}
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
