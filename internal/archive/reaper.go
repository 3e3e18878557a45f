// Package archive expires finished jobs and their output files.
package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/metrics"
	"github.com/yokitheyo/vidjoin/internal/model"
)

// JobStore is the part of the job registry the reaper needs.
type JobStore interface {
	Evict(retention time.Duration) []model.Job
	List() []model.Job
}

type Reaper struct {
	jobs      JobStore
	outputDir string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

func NewReaper(jobs JobStore, outputDir string, retention, interval time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{
		jobs:      jobs,
		outputDir: outputDir,
		retention: retention,
		interval:  interval,
		log:       log,
	}
}

// Sweep evicts expired jobs, deletes their outputs, then removes orphaned
// outputs. It returns the number of jobs evicted.
func (r *Reaper) Sweep() int {
	evicted := r.jobs.Evict(r.retention)
	for _, j := range evicted {
		if j.OutputPath == "" {
			continue
		}
		if err := os.Remove(j.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to remove job output")
		}
	}
	if n := len(evicted); n > 0 {
		metrics.JobsEvicted.Add(float64(n))
		r.log.Info().Int("count", n).Msg("evicted expired jobs")
	}

	if r.outputDir != "" {
		CleanOldOutputs(r.outputDir, r.retention, r.ownedOutputs(), r.log)
	}
	return len(evicted)
}

// ownedOutputs returns the output paths of jobs still held by the registry.
// Those files live exactly as long as their record.
func (r *Reaper) ownedOutputs() map[string]bool {
	owned := make(map[string]bool)
	for _, j := range r.jobs.List() {
		if j.OutputPath != "" {
			owned[absPath(j.OutputPath)] = true
		}
	}
	return owned
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
