package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/model"
	"github.com/yokitheyo/vidjoin/internal/taskmgr"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func TestCleanOldOutputs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp4")
	fresh := filepath.Join(dir, "fresh.mp4")
	other := filepath.Join(dir, "notes.txt")
	touch(t, old, 2*time.Hour)
	touch(t, fresh, time.Minute)
	touch(t, other, 2*time.Hour)

	n, err := CleanOldOutputs(dir, time.Hour, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d files, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old output should be removed")
	}
	for _, keep := range []string{fresh, other} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("%s should be kept: %v", keep, err)
		}
	}
}

type fakeEvictor struct {
	mu   sync.Mutex
	jobs []model.Job
	seen []time.Duration
}

func (f *fakeEvictor) Evict(retention time.Duration) []model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, retention)
	out := f.jobs
	f.jobs = nil
	return out
}

func (f *fakeEvictor) List() []model.Job { return nil }

func (f *fakeEvictor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestSweepRemovesEvictedOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "job1_video.mp4")
	touch(t, out, 0)

	ev := &fakeEvictor{jobs: []model.Job{
		{ID: "job1", OutputPath: out},
		{ID: "job2", OutputPath: filepath.Join(dir, "gone.mp4")},
		{ID: "job3"},
	}}
	r := NewReaper(ev, "", time.Hour, time.Minute, zerolog.Nop())

	if n := r.Sweep(); n != 3 {
		t.Errorf("Sweep = %d, want 3", n)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("evicted job output should be deleted")
	}
	if ev.seen[0] != time.Hour {
		t.Errorf("retention passed = %v", ev.seen[0])
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	ev := &fakeEvictor{}
	r := NewReaper(ev, t.TempDir(), time.Hour, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ev.calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps ran", ev.calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCleanOldOutputsSkipsOwned(t *testing.T) {
	dir := t.TempDir()
	owned := filepath.Join(dir, "owned.mp4")
	touch(t, owned, 2*time.Hour)

	n, err := CleanOldOutputs(dir, time.Hour, map[string]bool{absPath(owned): true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("cleaned %d files, want 0", n)
	}
	if _, err := os.Stat(owned); err != nil {
		t.Errorf("owned output removed: %v", err)
	}
}

// A job that spent a long time compressing finishes well after its merged
// output was written. The file must survive as long as the job record does.
func TestSweepKeepsOutputOfLiveJob(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "job1_out.mp4")
	touch(t, out, 65*time.Minute)

	finished := time.Now().Add(-45 * time.Minute)
	reg := taskmgr.NewRegistry()
	if err := reg.Create(model.Job{
		ID:         "job1",
		Status:     model.StatusCompleted,
		OutputPath: out,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatal(err)
	}

	r := NewReaper(reg, dir, time.Hour, time.Minute, zerolog.Nop())
	if n := r.Sweep(); n != 0 {
		t.Errorf("evicted %d jobs, want 0", n)
	}
	job, err := reg.Get("job1")
	if err != nil || job.Status != model.StatusCompleted {
		t.Fatalf("job = %+v, err = %v", job, err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output of a live completed job was deleted: %v", err)
	}
}

func TestSweepRemovesOutputWithRecord(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "job1_out.mp4")
	touch(t, out, 3*time.Hour)

	finished := time.Now().Add(-2 * time.Hour)
	reg := taskmgr.NewRegistry()
	reg.Create(model.Job{ID: "job1", Status: model.StatusCompleted, OutputPath: out, FinishedAt: &finished})

	r := NewReaper(reg, dir, time.Hour, time.Minute, zerolog.Nop())
	if n := r.Sweep(); n != 1 {
		t.Errorf("evicted %d jobs, want 1", n)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output should go with its record")
	}
	if _, err := reg.Get("job1"); err == nil {
		t.Error("record should be evicted")
	}
}
