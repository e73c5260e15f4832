package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/sweepd/internal/compute"
	"github.com/timmy/sweepd/internal/config"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/repository"
	"github.com/timmy/sweepd/internal/sweep"
	"gorm.io/datatypes"
)

func newTestStore(t *testing.T) *repository.JobRepository {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "jobs.db"),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewJobRepository(db)
}

func newTestController(t *testing.T, comp compute.Computer, concurrency int) (*JobController, *repository.JobRepository) {
	t.Helper()
	store := newTestStore(t)
	c := NewJobController(store, comp, ControllerOptions{Concurrency: concurrency, WatchInterval: 5 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c, store
}

func radiusSweep(start, end, step float64) domain.SweepDefinition {
	return domain.SweepDefinition{
		BaseConfig: domain.DefaultSimulationConfig(),
		Sweeps:     []domain.SweepParameter{{Name: "radius", Start: start, End: end, Step: step}},
	}
}

// recorder is a Computer that echoes its config and remembers the radii it saw.
type recorder struct {
	mu     sync.Mutex
	radii  []float64
	failAt float64
	delay  time.Duration
}

func (r *recorder) Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.radii = append(r.radii, cfg.Radius)
	r.mu.Unlock()
	if r.failAt != 0 && cfg.Radius == r.failAt {
		return nil, fmt.Errorf("solver diverged at radius %v", cfg.Radius)
	}
	return &domain.SimulationResult{Wavelengths: []float64{800}, Transmittance: []float64{0.5}, Config: cfg}, nil
}

func (r *recorder) seen() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.radii...)
}

func TestRunCompletesSweep(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 2)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusPending || job.Progress.Total != 3 || job.Progress.Message != "Job queued" {
		t.Fatalf("created job = %+v", job)
	}

	if err := c.Run(ctx, id); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	job, _ = c.Status(ctx, id)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Progress.Current != 3 || job.Progress.Percent != 100 || job.Progress.Message != "Completed successfully" {
		t.Errorf("progress = %+v", job.Progress)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("timestamps not set")
	}

	results, err := c.Results(ctx, id)
	if err != nil {
		t.Fatalf("Results() error: %v", err)
	}
	want := []float64{0.1, 0.2, 0.3}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.ResultIndex != i || r.Data().Config.Radius != want[i] {
			t.Errorf("results[%d] = index %d radius %v", i, r.ResultIndex, r.Data().Config.Radius)
		}
		if r.ConfigHash != r.Data().Config.Hash() {
			t.Errorf("results[%d] hash mismatch", i)
		}
	}
}

func TestRunIsolatesFailedItem(t *testing.T) {
	c, _ := newTestController(t, &recorder{failAt: 0.2}, 3)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, id); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusCompleted || job.Progress.Current != 3 || job.FailedItems != 1 {
		t.Errorf("job = status %s current %d failed %d", job.Status, job.Progress.Current, job.FailedItems)
	}

	results, err := c.Results(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if !results[1].Failed() || results[1].Data() != nil {
		t.Errorf("result 1 should be flagged failed: %+v", results[1])
	}
	if results[0].Failed() || results[2].Failed() {
		t.Error("only result 1 should fail")
	}
}

func TestCreateRejectsInvalidSweep(t *testing.T) {
	c, store := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	tests := map[string]domain.SweepDefinition{
		"unknown field": {BaseConfig: domain.DefaultSimulationConfig(), Sweeps: []domain.SweepParameter{{Name: "bogus", Start: 0, End: 1, Step: 0.5}}},
		"negative step": radiusSweep(0.1, 0.3, -0.1),
		"missing name":  {BaseConfig: domain.DefaultSimulationConfig(), Sweeps: []domain.SweepParameter{{Start: 0, End: 1, Step: 0.5}}},
	}
	for name, def := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Create(ctx, def)
			var invalid *domain.InvalidParameterError
			if !errors.As(err, &invalid) {
				t.Errorf("Create() error = %v, want InvalidParameterError", err)
			}
		})
	}

	if _, total, _ := store.List(ctx, domain.JobFilter{}); total != 0 {
		t.Errorf("%d jobs created from invalid definitions", total)
	}
}

func TestCancelPendingJob(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := c.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusCancelled || job.CompletedAt == nil {
		t.Errorf("job = status %s completed_at %v", job.Status, job.CompletedAt)
	}

	if ok, err := c.Cancel(ctx, id); ok || err != nil {
		t.Errorf("second Cancel() = %v, %v; want false, nil", ok, err)
	}
	if err := c.Run(ctx, id); !errors.Is(err, domain.ErrJobNotRunnable) {
		t.Errorf("Run() on cancelled job = %v, want ErrJobNotRunnable", err)
	}

	_, err = c.Results(ctx, id)
	var notDone *domain.JobNotCompletedError
	if !errors.As(err, &notDone) || notDone.Status != domain.JobStatusCancelled {
		t.Errorf("Results() error = %v, want JobNotCompletedError(cancelled)", err)
	}
}

func TestUnknownJob(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	if _, err := c.Status(ctx, "nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Status() error = %v", err)
	}
	if _, err := c.Results(ctx, "nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Results() error = %v", err)
	}
	if ok, err := c.Cancel(ctx, "nope"); ok || err != nil {
		t.Errorf("Cancel() = %v, %v", ok, err)
	}
	if _, err := c.Watch(ctx, "nope", 0); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Watch() error = %v", err)
	}
}

// gate blocks every computation until released and reports each start.
type gate struct {
	started chan float64
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan float64, 100), release: make(chan struct{})}
}

func (g *gate) Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	g.started <- cfg.Radius
	<-g.release
	return &domain.SimulationResult{Config: cfg}, nil
}

func waitInactive(t *testing.T, c *JobController, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.IsActive(id) {
		if time.Now().After(deadline) {
			t.Fatal("job still active")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCancelRunningJobStopsDispatch(t *testing.T) {
	g := newGate()
	c, store := newTestController(t, g, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.01, 0.1, 0.01))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(id); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-g.started

	if err := c.Start(id); !errors.Is(err, domain.ErrJobActive) {
		t.Errorf("second Start() = %v, want ErrJobActive", err)
	}

	ok, err := c.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	close(g.release)
	waitInactive(t, c, id)

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
	results, _ := store.ListResults(ctx, id)
	if len(results) == 0 || len(results) >= 10 {
		t.Errorf("recorded %d results, want the in-flight item but not the whole sweep", len(results))
	}
	if job.Progress.Current != len(results) {
		t.Errorf("progress current %d != recorded results %d", job.Progress.Current, len(results))
	}
}

func TestResumeSkipsStoredResults(t *testing.T) {
	rec := &recorder{}
	c, store := newTestController(t, rec, 2)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.4, 0.1))
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a process that stored items 0 and 2 and then died.
	if _, err := store.MarkRunning(ctx, id); err != nil {
		t.Fatal(err)
	}
	for i, idx := range []int{0, 2} {
		r := &domain.JobResult{JobID: id, ResultIndex: idx, Result: datatypes.NewJSONType(&domain.SimulationResult{})}
		if _, err := store.RecordOutcome(ctx, r, domain.Progress{Current: i + 1, Total: 4}, 0); err != nil {
			t.Fatal(err)
		}
	}

	resumable, err := c.ResumableJobs(ctx)
	if err != nil || len(resumable) != 1 || resumable[0].ID != id {
		t.Fatalf("ResumableJobs() = %v, %v", resumable, err)
	}

	if err := c.Resume(ctx, id); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}

	seen := rec.seen()
	if len(seen) != 2 {
		t.Fatalf("computed %v, want only the two missing items", seen)
	}
	for _, r := range seen {
		if r != 0.2 && r != 0.4 {
			t.Errorf("unexpected radius computed: %v", r)
		}
	}

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusCompleted || job.Progress.Current != 4 {
		t.Errorf("job = status %s current %d", job.Status, job.Progress.Current)
	}
	if resumable, _ := c.ResumableJobs(ctx); len(resumable) != 0 {
		t.Errorf("completed job still resumable")
	}
	if err := c.Resume(ctx, id); !errors.Is(err, domain.ErrJobNotRunnable) {
		t.Errorf("Resume() on completed job = %v", err)
	}
}

func TestShutdownLeavesJobResumable(t *testing.T) {
	g := newGate()
	c, _ := newTestController(t, g, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.01, 0.1, 0.01))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(id); err != nil {
		t.Fatal(err)
	}
	<-g.started

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- c.Shutdown(ctx) }()
	time.Sleep(10 * time.Millisecond)
	close(g.release)
	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusRunning {
		t.Errorf("status after shutdown = %s, want running", job.Status)
	}
	if job.Progress.Current == 0 || job.Progress.Current >= 10 {
		t.Errorf("current = %d", job.Progress.Current)
	}

	if err := c.Resume(ctx, id); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	job, _ = c.Status(ctx, id)
	if job.Status != domain.JobStatusCompleted || job.Progress.Current != 10 {
		t.Errorf("after resume: status %s current %d", job.Status, job.Progress.Current)
	}
}

func TestWatchProgressIsMonotonic(t *testing.T) {
	c, _ := newTestController(t, &recorder{delay: 3 * time.Millisecond}, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := c.Submit(ctx, radiusSweep(0.01, 0.2, 0.01))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	updates, err := c.Watch(ctx, job.ID, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	var last domain.Job
	prev := -1
	n := 0
	for snap := range updates {
		if snap.Progress.Current < prev {
			t.Fatalf("progress went backwards: %d -> %d", prev, snap.Progress.Current)
		}
		if snap.Progress.Current > snap.Progress.Total {
			t.Fatalf("current %d exceeds total %d", snap.Progress.Current, snap.Progress.Total)
		}
		prev = snap.Progress.Current
		last = snap
		n++
	}

	if last.Status != domain.JobStatusCompleted || last.Progress.Current != 20 {
		t.Errorf("last snapshot = status %s current %d", last.Status, last.Progress.Current)
	}
	if n < 2 {
		t.Errorf("received %d snapshots, want several", n)
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, id); err != nil {
		t.Fatal(err)
	}

	jobs, total, err := c.List(ctx, domain.JobFilter{Status: domain.JobStatusCompleted})
	if err != nil || total != 1 || jobs[0].ID != id {
		t.Fatalf("List() = %v, %d, %v", jobs, total, err)
	}

	ok, err := c.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}
	if _, err := c.Status(ctx, id); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Status() after delete = %v", err)
	}

	if _, err := c.Cleanup(ctx, 0); err == nil {
		t.Error("Cleanup(0) should be rejected")
	}
	if n, err := c.Cleanup(ctx, 30); err != nil || n != 0 {
		t.Errorf("Cleanup(30) = %d, %v", n, err)
	}
}

func TestStatusTransitionsAreMonotone(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, id); err != nil {
		t.Fatal(err)
	}

	// A completed job cannot be cancelled or re-run.
	if ok, _ := c.Cancel(ctx, id); ok {
		t.Error("Cancel() succeeded on a completed job")
	}
	if err := c.Run(ctx, id); !errors.Is(err, domain.ErrJobNotRunnable) {
		t.Errorf("Run() on completed job = %v", err)
	}
	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusCompleted || job.Progress.Total != 1 {
		t.Errorf("job = %s total %d", job.Status, job.Progress.Total)
	}
}

func TestCancelFromAnotherControllerStopsDispatch(t *testing.T) {
	g := newGate()
	runner, store := newTestController(t, g, 1)
	other := NewJobController(store, &recorder{}, ControllerOptions{Concurrency: 1})
	ctx := context.Background()

	id, err := runner.Create(ctx, radiusSweep(0.01, 0.1, 0.01))
	if err != nil {
		t.Fatal(err)
	}
	if err := runner.Start(id); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer close(g.release)
	<-g.started

	if other.IsActive(id) {
		t.Fatal("second controller should not be driving the job")
	}
	ok, err := other.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	g.release <- struct{}{}
	waitInactive(t, runner, id)

	if n := len(g.started); n != 0 {
		t.Errorf("%d items dispatched after the cancel", n)
	}
	job, _ := runner.Status(ctx, id)
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
	if job.Progress.Message != "Job cancelled" {
		t.Errorf("message = %q, want the cancel message kept", job.Progress.Message)
	}
	results, _ := store.ListResults(ctx, id)
	if len(results) != 1 || job.Progress.Current != 1 {
		t.Errorf("recorded %d results, current %d; want only the in-flight item", len(results), job.Progress.Current)
	}
}

// flakyStore fails every RecordOutcome while fail is set.
type flakyStore struct {
	*repository.JobRepository
	fail atomic.Bool
}

func (s *flakyStore) RecordOutcome(ctx context.Context, result *domain.JobResult, p domain.Progress, failed int) (domain.JobStatus, error) {
	if s.fail.Load() {
		return "", &domain.StorageError{Op: "record outcome", Err: errors.New("disk full")}
	}
	return s.JobRepository.RecordOutcome(ctx, result, p, failed)
}

func TestStorageFailureFailsJob(t *testing.T) {
	store := &flakyStore{JobRepository: newTestStore(t)}
	c := NewJobController(store, &recorder{}, ControllerOptions{Concurrency: 2})
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.4, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	store.fail.Store(true)
	err = c.Run(ctx, id)
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Run() error = %v, want StorageError", err)
	}

	job, _ := c.Status(ctx, id)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "disk full") {
		t.Errorf("error = %q, want the storage failure", job.Error)
	}
	if c.IsActive(id) {
		t.Error("failed job still active")
	}

	store.fail.Store(false)
	next, err := c.Create(ctx, radiusSweep(0.1, 0.2, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, next); err != nil {
		t.Fatalf("Run() after storage recovered: %v", err)
	}
	if job, _ := c.Status(ctx, next); job.Status != domain.JobStatusCompleted {
		t.Errorf("next job status = %s, want completed", job.Status)
	}
}

// slowFirst makes earlier items (smaller radius) take longer, so items finish
// in reverse order. finished records completion order.
type slowFirst struct {
	mu       sync.Mutex
	finished []float64
}

func (s *slowFirst) Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	time.Sleep(time.Duration((0.5-cfg.Radius)*200) * time.Millisecond)
	s.mu.Lock()
	s.finished = append(s.finished, cfg.Radius)
	s.mu.Unlock()
	return &domain.SimulationResult{Wavelengths: []float64{800}, Config: cfg}, nil
}

func TestResultsFollowEnumerationOrder(t *testing.T) {
	comp := &slowFirst{}
	c, _ := newTestController(t, comp, 4)
	ctx := context.Background()

	def := radiusSweep(0.1, 0.4, 0.1)
	id, err := c.Create(ctx, def)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, id); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	comp.mu.Lock()
	finished := append([]float64(nil), comp.finished...)
	comp.mu.Unlock()
	if len(finished) != 4 || finished[0] == 0.1 {
		t.Fatalf("completion order %v; expected the first item to finish last", finished)
	}

	want, err := sweep.Expand(def)
	if err != nil {
		t.Fatal(err)
	}
	results, err := c.Results(ctx, id)
	if err != nil {
		t.Fatalf("Results() error: %v", err)
	}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.ResultIndex != i || r.ConfigHash != want[i].Hash() {
			t.Errorf("results[%d] = index %d hash %s, want hash %s", i, r.ResultIndex, r.ConfigHash, want[i].Hash())
		}
		if got := r.Data().Config.Radius; got != want[i].Radius {
			t.Errorf("results[%d] radius = %v, want %v", i, got, want[i].Radius)
		}
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	ctx := context.Background()

	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}

	check := func(stage string) {
		t.Helper()
		first, err := c.Status(ctx, id)
		if err != nil {
			t.Fatalf("%s: Status() error: %v", stage, err)
		}
		second, err := c.Status(ctx, id)
		if err != nil {
			t.Fatalf("%s: Status() error: %v", stage, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: Status() snapshots differ:\n%+v\n%+v", stage, first, second)
		}
	}

	check("pending")
	if err := c.Run(ctx, id); err != nil {
		t.Fatal(err)
	}
	check("completed")
}
