// Package taskmgr runs concatenation jobs: one goroutine per job drives it
// from queued to completed or failed, recording every step in a Registry.
package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/compress"
	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/metrics"
	"github.com/yokitheyo/vidjoin/internal/model"
)

type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type Concatenator interface {
	Concat(ctx context.Context, paths []string, outputPath string) error
}

type Compressor interface {
	Compress(ctx context.Context, inputPath, workDir string, targetMB float64) (*compress.Result, error)
}

// Deps are the collaborators a job pipeline calls into.
type Deps struct {
	Fetcher    Fetcher
	Prober     Prober
	Concat     Concatenator
	Compressor Compressor
}

type Options struct {
	OutputDir      string
	WorkDir        string
	MaxConcurrent  int
	ParallelFetch  bool
	FetchWorkers   int
	KeepWorkspace  bool
	MaxURLs        int
	AllowedSchemes []string
	MinSizeMB      float64
	MaxSizeMB      float64
	DefaultSizeMB  float64
	DefaultName    string
}

// Request is a submission before validation.
type Request struct {
	URLs       []string
	OutputName string
	MaxSizeMB  float64
}

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrShuttingDown   = errors.New("task manager is shutting down")
)

const cancelledMsg = "job cancelled"

type taskHandle struct {
	done   chan struct{}
	cancel context.CancelFunc
}

type TaskManager struct {
	reg  *Registry
	deps Deps
	opts Options
	log  zerolog.Logger

	sem chan struct{} // bounds running pipelines when MaxConcurrent > 0

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	handles map[string]*taskHandle
	closed  bool
	wg      sync.WaitGroup
}

func NewTaskManager(reg *Registry, deps Deps, opts Options, log zerolog.Logger) *TaskManager {
	if opts.FetchWorkers < 1 {
		opts.FetchWorkers = 1
	}
	if len(opts.AllowedSchemes) == 0 {
		opts.AllowedSchemes = []string{"http", "https"}
	}
	if opts.DefaultName == "" {
		opts.DefaultName = "concatenated_video.mp4"
	}
	ctx, stop := context.WithCancel(context.Background())
	tm := &TaskManager{
		reg:     reg,
		deps:    deps,
		opts:    opts,
		log:     log,
		ctx:     ctx,
		stop:    stop,
		handles: make(map[string]*taskHandle),
	}
	if opts.MaxConcurrent > 0 {
		tm.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return tm
}

func (tm *TaskManager) Registry() *Registry { return tm.reg }

// Limits describes what a submission may ask for.
type Limits struct {
	MaxURLs       int
	MinSizeMB     float64
	MaxSizeMB     float64
	DefaultSizeMB float64
	DefaultName   string
}

func (tm *TaskManager) Limits() Limits {
	return Limits{
		MaxURLs:       tm.opts.MaxURLs,
		MinSizeMB:     tm.opts.MinSizeMB,
		MaxSizeMB:     tm.opts.MaxSizeMB,
		DefaultSizeMB: tm.opts.DefaultSizeMB,
		DefaultName:   tm.opts.DefaultName,
	}
}

// Validate normalises req in place and reports the first problem found.
func (tm *TaskManager) Validate(req *Request) error {
	if len(req.URLs) == 0 {
		return fmt.Errorf("%w: at least one url is required", ErrInvalidRequest)
	}
	if tm.opts.MaxURLs > 0 && len(req.URLs) > tm.opts.MaxURLs {
		return fmt.Errorf("%w: at most %d urls allowed, got %d", ErrInvalidRequest, tm.opts.MaxURLs, len(req.URLs))
	}
	for i, raw := range req.URLs {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || !slices.Contains(tm.opts.AllowedSchemes, strings.ToLower(u.Scheme)) {
			return fmt.Errorf("%w: invalid url: %s", ErrInvalidRequest, raw)
		}
		req.URLs[i] = raw
	}

	if req.MaxSizeMB == 0 {
		req.MaxSizeMB = tm.opts.DefaultSizeMB
	}
	if req.MaxSizeMB < tm.opts.MinSizeMB || req.MaxSizeMB > tm.opts.MaxSizeMB {
		return fmt.Errorf("%w: max_size_mb must be between %g and %g", ErrInvalidRequest, tm.opts.MinSizeMB, tm.opts.MaxSizeMB)
	}

	req.OutputName = outputName(req.OutputName, tm.opts.DefaultName)
	return nil
}

// outputName keeps only the base name and forces an .mp4 extension.
func outputName(name, fallback string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		name = fallback
	}
	if !strings.EqualFold(filepath.Ext(name), ".mp4") {
		name += ".mp4"
	}
	return name
}

// Submit validates req, records a queued job and starts its worker.
func (tm *TaskManager) Submit(req Request) (model.Job, error) {
	req.URLs = slices.Clone(req.URLs)
	if err := tm.Validate(&req); err != nil {
		return model.Job{}, err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return model.Job{}, ErrShuttingDown
	}

	id := uuid.New().String()
	job := model.Job{
		ID:         id,
		Status:     model.StatusQueued,
		URLs:       req.URLs,
		OutputName: req.OutputName,
		OutputPath: filepath.Join(tm.opts.OutputDir, id+"_"+req.OutputName),
		MaxSizeMB:  req.MaxSizeMB,
		Progress:   model.Progress{Total: len(req.URLs)},
	}
	if err := tm.reg.Create(job); err != nil {
		return model.Job{}, err
	}
	snapshot, err := tm.reg.Get(id)
	if err != nil {
		return model.Job{}, err
	}

	ctx, cancel := context.WithCancel(tm.ctx)
	h := &taskHandle{done: make(chan struct{}), cancel: cancel}
	tm.handles[id] = h
	tm.wg.Add(1)
	metrics.JobsSubmitted.Inc()

	go func() {
		defer tm.wg.Done()
		defer close(h.done)
		defer cancel()
		tm.run(ctx, id)

		tm.mu.Lock()
		delete(tm.handles, id)
		tm.mu.Unlock()
	}()

	tm.log.Info().Str("job_id", id).Int("urls", len(req.URLs)).Float64("max_size_mb", req.MaxSizeMB).Msg("job submitted")
	return snapshot, nil
}

// Wait blocks until the job is terminal or ctx ends, and returns the latest
// snapshot.
func (tm *TaskManager) Wait(ctx context.Context, id string) (model.Job, error) {
	tm.mu.Lock()
	h, ok := tm.handles[id]
	tm.mu.Unlock()

	if ok {
		select {
		case <-h.done:
		case <-ctx.Done():
			job, err := tm.reg.Get(id)
			if err != nil {
				return job, err
			}
			return job, ctx.Err()
		}
	}
	return tm.reg.Get(id)
}

// Cancel stops a running job. The job ends failed with "job cancelled".
// A job that already reached a terminal state reports ErrJobTerminal even
// while its worker is still unwinding.
func (tm *TaskManager) Cancel(id string) error {
	job, err := tm.reg.Get(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobTerminal
	}

	tm.mu.Lock()
	h, ok := tm.handles[id]
	tm.mu.Unlock()
	if !ok {
		// The worker finished between the two lookups.
		return ErrJobTerminal
	}
	h.cancel()
	return nil
}

// Active is the number of jobs whose worker has not returned yet.
func (tm *TaskManager) Active() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.handles)
}

// Shutdown refuses new jobs, cancels running ones and waits for their
// workers to record a terminal state.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	tm.mu.Unlock()
	tm.stop()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
