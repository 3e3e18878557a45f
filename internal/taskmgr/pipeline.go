package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/vidjoin/internal/compress"
	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/metrics"
	"github.com/yokitheyo/vidjoin/internal/model"
	"github.com/yokitheyo/vidjoin/internal/service"
)

// run drives one job to a terminal state. It is the only writer for the job.
func (tm *TaskManager) run(ctx context.Context, id string) {
	log := tm.log.With().Str("job_id", id).Logger()

	if tm.sem != nil {
		select {
		case tm.sem <- struct{}{}:
			defer func() { <-tm.sem }()
		case <-ctx.Done():
			tm.fail(id, errors.New(cancelledMsg), log)
			return
		}
	}

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	job, err := tm.reg.Get(id)
	if err != nil {
		log.Error().Err(err).Msg("job vanished before start")
		return
	}

	start := time.Now()
	if err := tm.execute(ctx, job, log); err != nil {
		if ctx.Err() != nil {
			err = errors.New(cancelledMsg)
		}
		tm.fail(id, err, log)
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
}

func (tm *TaskManager) execute(ctx context.Context, job model.Job, log zerolog.Logger) error {
	ws, err := os.MkdirTemp(tm.opts.WorkDir, "job-"+job.ID+"-*")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if tm.opts.KeepWorkspace {
		log.Info().Str("workspace", ws).Msg("keeping workspace")
	} else {
		defer os.RemoveAll(ws)
	}

	n := len(job.URLs)
	if _, err := tm.reg.Update(job.ID, func(j *model.Job) error {
		j.Status = model.StatusDownloading
		j.Progress = model.Progress{Current: 0, Total: n}
		return nil
	}); err != nil {
		return err
	}

	phase := time.Now()
	items, err := tm.download(ctx, job, ws, log)
	if err != nil {
		return err
	}
	observe("download", phase)

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	for _, it := range items {
		job.DurationSec += it.Duration
	}

	if n == 1 {
		if err := copyFile(items[0].Path, job.OutputPath); err != nil {
			return fmt.Errorf("copy single source: %w", err)
		}
	} else {
		if _, err := tm.reg.Update(job.ID, func(j *model.Job) error {
			j.Status = model.StatusConcatenating
			return nil
		}); err != nil {
			return err
		}
		phase = time.Now()
		paths := make([]string, len(items))
		for i, it := range items {
			paths[i] = it.Path
		}
		if err := tm.deps.Concat.Concat(ctx, paths, job.OutputPath); err != nil {
			return err
		}
		observe("concatenate", phase)

		warning, err := tm.verifyDuration(ctx, job.OutputPath, job.DurationSec)
		if err != nil {
			return err
		}
		if warning != "" {
			log.Warn().Msg(warning)
			job.Warning = warning
		}
	}

	sizeMB, err := compress.FileSizeMB(job.OutputPath)
	if err != nil {
		return &ffmpeg.ConcatError{Stderr: "output file was not created", Err: err}
	}
	log.Info().Float64("size_mb", round2(sizeMB)).Float64("max_size_mb", job.MaxSizeMB).Msg("sources merged")

	if sizeMB <= job.MaxSizeMB {
		return tm.complete(job, func(j *model.Job) {
			j.FileSizeMB = round2(sizeMB)
			j.OriginalSizeMB = round2(sizeMB)
		})
	}

	return tm.compress(ctx, job, ws, sizeMB, log)
}

// verifyDuration probes the merged output and compares its length with the
// sum of the sources. A mismatch is reported as a warning; an unreadable
// output is a concatenation failure.
func (tm *TaskManager) verifyDuration(ctx context.Context, path string, want float64) (string, error) {
	res, err := tm.deps.Prober.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("could not verify merged duration: %v", err), nil
	}
	if !res.Valid {
		return "", &ffmpeg.ConcatError{Stderr: "merged output is not a valid video"}
	}
	if math.Abs(res.Duration-want) > durationTolerance(want) {
		return fmt.Sprintf("merged duration %.1fs differs from sources total %.1fs", res.Duration, want), nil
	}
	return "", nil
}

// durationTolerance absorbs per-segment timestamp rounding in stream copy.
func durationTolerance(total float64) float64 {
	return max(0.5, total*0.01)
}

func (tm *TaskManager) compress(ctx context.Context, job model.Job, ws string, origMB float64, log zerolog.Logger) error {
	if _, err := tm.reg.Update(job.ID, func(j *model.Job) error {
		j.Status = model.StatusCompressing
		return nil
	}); err != nil {
		return err
	}

	phase := time.Now()
	res, err := tm.deps.Compressor.Compress(ctx, job.OutputPath, ws, job.MaxSizeMB)
	observe("compress", phase)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("compression failed, keeping merged file")
		return tm.complete(job, func(j *model.Job) {
			j.FileSizeMB = round2(origMB)
			j.OriginalSizeMB = round2(origMB)
			j.Warning = err.Error()
		})
	}

	if res.Skipped || res.Path == job.OutputPath {
		return tm.complete(job, func(j *model.Job) {
			j.FileSizeMB = round2(origMB)
			j.OriginalSizeMB = round2(origMB)
		})
	}

	// A best effort that did not shrink the file is worse than the original.
	if !res.TargetMet && res.SizeMB >= origMB {
		os.Remove(res.Path)
		return tm.complete(job, func(j *model.Job) {
			j.FileSizeMB = round2(origMB)
			j.OriginalSizeMB = round2(origMB)
			j.Attempts = res.Attempts
			j.Warning = fmt.Sprintf("could not compress below %.2f MB; kept original", origMB)
		})
	}

	if err := moveFile(res.Path, job.OutputPath); err != nil {
		os.Remove(res.Path)
		if _, statErr := os.Stat(job.OutputPath); statErr != nil {
			return fmt.Errorf("store compressed output: %w", err)
		}
		log.Warn().Err(err).Msg("could not store compressed output, keeping merged file")
		return tm.complete(job, func(j *model.Job) {
			j.FileSizeMB = round2(origMB)
			j.OriginalSizeMB = round2(origMB)
			j.Attempts = res.Attempts
			j.Warning = "could not store compressed output: " + err.Error()
		})
	}

	return tm.complete(job, func(j *model.Job) {
		j.WasCompressed = true
		j.TargetMet = res.TargetMet
		j.FileSizeMB = round2(res.SizeMB)
		j.OriginalSizeMB = round2(origMB)
		j.CompressionRatio = math.Round(compress.Ratio(origMB, res.SizeMB)*10) / 10
		j.Attempts = res.Attempts
		if !res.TargetMet {
			j.Warning = fmt.Sprintf("target of %g MB not reached; best result is %.2f MB", job.MaxSizeMB, res.SizeMB)
		}
	})
}

// download fetches and probes every source. Results keep submission order
// whether or not the fetch runs in parallel.
func (tm *TaskManager) download(ctx context.Context, job model.Job, ws string, log zerolog.Logger) ([]model.MediaItem, error) {
	items := make([]model.MediaItem, len(job.URLs))

	if !tm.opts.ParallelFetch || len(job.URLs) == 1 {
		for i, u := range job.URLs {
			if _, err := tm.reg.Update(job.ID, func(j *model.Job) error {
				j.Progress.Current = i + 1
				return nil
			}); err != nil {
				return nil, err
			}
			item, err := tm.fetchOne(ctx, i, u, ws, log)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tm.opts.FetchWorkers)
	for i, u := range job.URLs {
		g.Go(func() error {
			item, err := tm.fetchOne(gctx, i, u, ws, log)
			if err != nil {
				return err
			}
			items[i] = item
			_, err = tm.reg.Update(job.ID, func(j *model.Job) error {
				j.Progress.Current++
				return nil
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (tm *TaskManager) fetchOne(ctx context.Context, i int, u, ws string, log zerolog.Logger) (model.MediaItem, error) {
	dest := filepath.Join(ws, service.DestName(i, u))
	log.Info().Int("index", i+1).Str("url", u).Msg("downloading source")
	if err := tm.deps.Fetcher.Fetch(ctx, u, dest); err != nil {
		return model.MediaItem{}, err
	}

	res, err := tm.deps.Prober.Probe(ctx, dest)
	if err != nil {
		if ctx.Err() != nil {
			return model.MediaItem{}, ctx.Err()
		}
		return model.MediaItem{}, fmt.Errorf("probe %s: %w", u, err)
	}
	if !res.Valid || res.Duration <= 0 {
		return model.MediaItem{}, &ffmpeg.InvalidMediaError{URL: u}
	}
	log.Debug().
		Str("url", u).
		Str("format", res.FormatName).
		Float64("duration", res.Duration).
		Bool("has_audio", res.HasAudio).
		Int64("size", res.Size).
		Msg("source probed")
	return model.MediaItem{URL: u, Path: dest, Valid: true, Duration: res.Duration}, nil
}

// complete commits the terminal state. job carries what earlier phases
// learned (total duration, merge warning); fill adds the final sizes. The
// output's mtime is refreshed so the orphan sweep measures retention from
// completion, not from when the file was first written.
func (tm *TaskManager) complete(job model.Job, fill func(*model.Job)) error {
	done, err := tm.reg.Update(job.ID, func(j *model.Job) error {
		j.DurationSec = job.DurationSec
		fill(j)
		j.Warning = joinWarnings(job.Warning, j.Warning)
		j.Status = model.StatusCompleted
		return nil
	})
	if err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(done.OutputPath, now, now); err != nil {
		tm.log.Warn().Err(err).Str("job_id", job.ID).Msg("could not touch output")
	}
	metrics.JobsFinished.WithLabelValues(string(model.StatusCompleted)).Inc()
	if done.Warning != "" {
		tm.log.Warn().Str("job_id", job.ID).Str("warning", done.Warning).Msg("job completed with warning")
	}
	return nil
}

func joinWarnings(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}

// fail records err as the job's terminal error and drops any partial output.
func (tm *TaskManager) fail(id string, err error, log zerolog.Logger) {
	job, uerr := tm.reg.Update(id, func(j *model.Job) error {
		j.Status = model.StatusFailed
		j.Error = err.Error()
		return nil
	})
	if uerr != nil {
		log.Error().Err(uerr).AnErr("cause", err).Msg("could not record job failure")
		return
	}
	if job.OutputPath != "" {
		os.Remove(job.OutputPath)
	}
	metrics.JobsFinished.WithLabelValues(string(model.StatusFailed)).Inc()
	log.Error().Err(err).Msg("job failed")
}

func observe(phase string, start time.Time) {
	metrics.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// moveFile renames src over dst, copying when they sit on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
