package taskmgr

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yokitheyo/vidjoin/internal/metrics"
	"github.com/yokitheyo/vidjoin/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrJobTerminal       = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry holds every known job. Readers get copies; writers go through
// Update, which refuses illegal transitions.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

func (r *Registry) Create(job model.Job) error {
	if job.ID == "" {
		return errors.New("job id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrJobExists
	}
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.StatusQueued
	}
	c := job.Clone()
	r.jobs[job.ID] = &c
	metrics.JobsTracked.Set(float64(len(r.jobs)))
	return nil
}

func (r *Registry) Get(id string) (model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	return j.Clone(), nil
}

// Update applies fn to a copy of the job and commits it only if the
// resulting status change is legal. A downloading job may stay downloading
// only if its progress advances.
func (r *Registry) Update(id string, fn func(*model.Job) error) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	if cur.IsTerminal() {
		return cur.Clone(), ErrJobTerminal
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	next.ID = cur.ID

	if err := checkTransition(cur, &next); err != nil {
		return cur.Clone(), err
	}

	now := r.now()
	next.UpdatedAt = now
	if next.IsTerminal() {
		next.FinishedAt = &now
	}
	r.jobs[id] = &next
	return next.Clone(), nil
}

func checkTransition(cur, next *model.Job) error {
	switch {
	case next.Status == cur.Status && cur.Status == model.StatusDownloading:
		if next.Progress.Current <= cur.Progress.Current {
			return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, cur.Progress.Current, next.Progress.Current)
		}
	case next.Status == cur.Status:
	case !model.CanTransition(cur.Status, next.Status):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	return nil
}

// List returns snapshots ordered by creation time.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	out := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Evict drops terminal jobs that finished before now-retention and returns
// them so the caller can delete their files. Running jobs are never evicted.
func (r *Registry) Evict(retention time.Duration) []model.Job {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []model.Job
	for id, j := range r.jobs {
		if !j.IsTerminal() || j.FinishedAt == nil || !j.FinishedAt.Before(cutoff) {
			continue
		}
		evicted = append(evicted, j.Clone())
		delete(r.jobs, id)
	}
	metrics.JobsTracked.Set(float64(len(r.jobs)))
	return evicted
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
