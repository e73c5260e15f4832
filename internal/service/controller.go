package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/sweepd/internal/compute"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/logger"
	"github.com/timmy/sweepd/internal/progress"
	"github.com/timmy/sweepd/internal/sweep"
	"github.com/timmy/sweepd/internal/worker"
	"gorm.io/datatypes"
)

// DefaultWatchInterval is the live-progress polling period.
const DefaultWatchInterval = 500 * time.Millisecond

// JobStore is the durable job surface the controller drives.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	MarkRunning(ctx context.Context, id string) (bool, error)
	Finish(ctx context.Context, id string, status domain.JobStatus, message, errMsg string) (bool, error)
	RecordOutcome(ctx context.Context, result *domain.JobResult, progress domain.Progress, failedItems int) (domain.JobStatus, error)
	ListResults(ctx context.Context, jobID string) ([]domain.JobResult, error)
	ResultIndexes(ctx context.Context, jobID string) ([]int, error)
	CountFailedResults(ctx context.Context, jobID string) (int, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error)
	ListResumable(ctx context.Context) ([]domain.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteOlderThan(ctx context.Context, days int, keep []string) (int64, error)
}

// ControllerOptions tunes job execution.
type ControllerOptions struct {
	Concurrency   int
	ItemTimeout   time.Duration
	WatchInterval time.Duration
}

// JobController owns the job lifecycle: creation, execution, cancellation and queries.
// Status lives in the store; the controller only remembers which jobs this process
// is currently driving.
type JobController struct {
	store         JobStore
	pool          *worker.Pool
	watchInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelFunc

	base     context.Context
	stopAll  context.CancelFunc
	inflight sync.WaitGroup
}

// NewJobController creates a controller executing simulations with computer.
func NewJobController(store JobStore, computer compute.Computer, opts ControllerOptions) *JobController {
	interval := opts.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	base, stop := context.WithCancel(context.Background())
	return &JobController{
		store:         store,
		pool:          worker.NewPool(computer, worker.Options{Concurrency: opts.Concurrency, ItemTimeout: opts.ItemTimeout}),
		watchInterval: interval,
		now:           time.Now,
		active:        make(map[string]context.CancelFunc),
		base:          base,
		stopAll:       stop,
	}
}

func (c *JobController) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(logger.SetComponent(ctx, "job_controller"))
}

// Create validates def and stores a pending job for it. Nothing runs until
// Run or Start is called.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - def: sweep definition.
// Returns:
//   - string: new job ID.
//   - error: InvalidParameterError if def cannot be expanded; the job is not created.
func (c *JobController) Create(ctx context.Context, def domain.SweepDefinition) (string, error) {
	job, err := c.create(ctx, def)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (c *JobController) create(ctx context.Context, def domain.SweepDefinition) (*domain.Job, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	exp, err := sweep.NewExpander(def)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:              uuid.NewString(),
		Status:          domain.JobStatusPending,
		SweepDefinition: datatypes.NewJSONType(def),
		Progress:        progress.Queued(exp.Count()),
		CreatedAt:       c.now().UTC(),
	}
	if err := c.store.Create(ctx, job); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{logger.FieldTotal: exp.Count()}).Info(logger.SetJobID(ctx, job.ID), "Job created")
	return job, nil
}

// Submit creates a job and starts it in the background.
func (c *JobController) Submit(ctx context.Context, def domain.SweepDefinition) (*domain.Job, error) {
	job, err := c.create(ctx, def)
	if err != nil {
		return nil, err
	}
	if err := c.Start(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// Start drives the job on a background goroutine tied to the controller's lifetime.
// Returns ErrJobActive if this process is already running it.
func (c *JobController) Start(id string) error {
	runCtx, release, err := c.claim(c.base, id)
	if err != nil {
		return err
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer release()
		ctx := logger.SetJobID(runCtx, id)
		if err := c.drive(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			c.log(ctx).WithError(err).Error("Job run ended with error")
		}
	}()
	return nil
}

// Run drives a pending job to a terminal status and blocks until it gets there,
// ctx is cancelled, or the job is cancelled.
// Item failures never fail the job; expansion or storage errors do.
func (c *JobController) Run(ctx context.Context, id string) error {
	runCtx, release, err := c.claim(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return c.drive(logger.SetJobID(runCtx, id), id)
}

// Resume continues a pending or running job that no process is driving,
// skipping items whose results are already stored. It blocks like Run.
func (c *JobController) Resume(ctx context.Context, id string) error {
	job, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrJobNotRunnable, job.Status)
	}
	c.log(logger.SetJobID(ctx, id)).WithField("current", job.Progress.Current).Info("Resuming job")
	return c.Run(ctx, id)
}

func (c *JobController) claim(parent context.Context, id string) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; ok {
		return nil, nil, domain.ErrJobActive
	}
	runCtx, cancel := context.WithCancel(parent)
	c.active[id] = cancel
	release := func() {
		c.mu.Lock()
		delete(c.active, id)
		c.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

func (c *JobController) cancelActive(id string) {
	c.mu.Lock()
	cancel, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// IsActive reports whether this process is currently driving the job.
func (c *JobController) IsActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

// ActiveCount returns how many jobs this process is driving.
func (c *JobController) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *JobController) activeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

// drive executes every item of the job that has no stored result yet.
// ctx cancellation stops dispatch; the job is then left for Cancel to have
// finalised or for a later Resume.
func (c *JobController) drive(ctx context.Context, id string) error {
	// Store writes must land even after ctx is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	job, err := c.store.GetByID(storeCtx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrJobNotRunnable, job.Status)
	}

	exp, err := sweep.NewExpander(job.Definition())
	if err != nil {
		return c.fail(storeCtx, id, err)
	}
	done, err := c.store.ResultIndexes(storeCtx, id)
	if err != nil {
		return c.fail(storeCtx, id, err)
	}
	failed, err := c.store.CountFailedResults(storeCtx, id)
	if err != nil {
		return c.fail(storeCtx, id, err)
	}

	ok, err := c.store.MarkRunning(storeCtx, id)
	if err != nil {
		return c.fail(storeCtx, id, err)
	}
	if !ok {
		return domain.ErrJobNotRunnable
	}

	total := exp.Count()
	remaining := total - len(done)
	started := c.now()
	tracker := progress.NewTracker(total, len(done), started)

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldTotal: total,
		"remaining":       remaining,
		"workers":         c.pool.Workers(remaining),
	}).Info("Job running")

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	var (
		storeFailure error
		stoppedBy    domain.JobStatus
	)
	onComplete := func(o worker.Outcome) {
		if storeFailure != nil {
			return
		}
		result := &domain.JobResult{
			JobID:       id,
			ResultIndex: o.Task.Index,
			ConfigHash:  o.Task.Config.Hash(),
			DurationMs:  o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			failed++
			result.Error = o.Err.Error()
			c.log(ctx).WithField(logger.FieldResultIndex, o.Task.Index).WithError(o.Err).Warn("Simulation failed")
		} else {
			result.Result = datatypes.NewJSONType(o.Result)
		}

		snapshot := tracker.Advance(c.now())
		status, err := c.store.RecordOutcome(storeCtx, result, snapshot, failed)
		if err != nil {
			storeFailure = err
			stopDispatch()
			return
		}
		// Another controller sharing the store may have finished the job.
		if status.IsTerminal() && stoppedBy == "" {
			stoppedBy = status
			stopDispatch()
		}
	}

	summary := c.pool.Execute(dispatchCtx, pendingTasks(exp, done), remaining, onComplete)

	elapsed := c.now().Sub(started)
	entry := logger.With(logger.Fields{
		logger.FieldCount:  summary.Dispatched,
		logger.FieldFailed: failed,
		"skipped":          summary.Skipped,
	}).WithDuration(elapsed)

	switch {
	case errors.Is(storeFailure, domain.ErrJobNotFound):
		entry.Warn(ctx, "Job deleted while running")
		return storeFailure
	case storeFailure != nil:
		return c.fail(storeCtx, id, storeFailure)
	case stoppedBy != "" && ctx.Err() == nil:
		entry.WithStatus(string(stoppedBy)).Info(ctx, "Job finished elsewhere, dispatch stopped")
		return nil
	case summary.Skipped > 0:
		entry.WithStatus(string(domain.JobStatusRunning)).Info(ctx, "Job dispatch stopped")
		return ctx.Err()
	}

	finished, err := c.store.Finish(storeCtx, id, domain.JobStatusCompleted, "Completed successfully", "")
	if err != nil {
		return c.fail(storeCtx, id, err)
	}
	if !finished {
		entry.Info(ctx, "Job reached a terminal status before completion")
		return nil
	}
	entry.WithStatus(string(domain.JobStatusCompleted)).Info(ctx, "Job completed")
	return nil
}

// pendingTasks yields the items of exp whose index is not in done.
func pendingTasks(exp *sweep.Expander, done []int) iter.Seq[worker.Task] {
	skip := make(map[int]struct{}, len(done))
	for _, i := range done {
		skip[i] = struct{}{}
	}
	return func(yield func(worker.Task) bool) {
		for i, cfg := range exp.All() {
			if _, ok := skip[i]; ok {
				continue
			}
			if !yield(worker.Task{Index: i, Config: cfg}) {
				return
			}
		}
	}
}

func (c *JobController) fail(ctx context.Context, id string, cause error) error {
	if _, err := c.store.Finish(ctx, id, domain.JobStatusFailed, "Job failed", cause.Error()); err != nil {
		c.log(ctx).WithError(err).Error("Failed to record job failure")
	}
	logger.With(logger.Fields{}).WithStatus(string(domain.JobStatusFailed)).Error(ctx, "Job failed: %v", cause)
	return cause
}

// Status returns the stored job, including progress.
func (c *JobController) Status(ctx context.Context, id string) (*domain.Job, error) {
	return c.store.GetByID(ctx, id)
}

// Results returns a completed job's per-item results ordered by index.
// Failed items are included with Error set.
func (c *JobController) Results(ctx context.Context, id string) ([]domain.JobResult, error) {
	job, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, &domain.JobNotCompletedError{JobID: id, Status: job.Status}
	}
	return c.store.ListResults(ctx, id)
}

// Cancel marks an active job cancelled and stops its dispatch loop if this
// process is driving it. Items already running finish and are recorded.
// Returns false when the job is unknown or already terminal.
func (c *JobController) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := c.store.GetByID(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	ok, err := c.store.Finish(ctx, id, domain.JobStatusCancelled, "Job cancelled", "")
	if err != nil {
		return false, err
	}
	if ok {
		c.cancelActive(id)
		logger.With(logger.Fields{}).WithStatus(string(domain.JobStatusCancelled)).Info(logger.SetJobID(ctx, id), "Job cancelled")
	}
	return ok, nil
}

// ResumableJobs lists jobs that are still pending or running in the store.
func (c *JobController) ResumableJobs(ctx context.Context) ([]domain.Job, error) {
	return c.store.ListResumable(ctx)
}

// List returns a page of jobs, newest first, and the total matching the filter.
func (c *JobController) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	return c.store.List(ctx, filter)
}

// Delete removes a job and its results, stopping its run first if active.
func (c *JobController) Delete(ctx context.Context, id string) (bool, error) {
	c.cancelActive(id)
	return c.store.Delete(ctx, id)
}

// Cleanup deletes jobs older than days, except those this process is driving.
func (c *JobController) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, &domain.InvalidParameterError{Parameter: "days", Reason: "must be positive"}
	}
	n, err := c.store.DeleteOlderThan(ctx, days, c.activeIDs())
	if err != nil {
		return 0, err
	}
	logger.With(logger.Fields{logger.FieldCount: n, "days": days}).Info(ctx, "Old jobs cleaned up")
	return n, nil
}

// Watch emits a job snapshot every interval until the job reaches a terminal
// status (that snapshot is sent) or ctx ends. Zero interval uses the default.
func (c *JobController) Watch(ctx context.Context, id string, interval time.Duration) (<-chan domain.Job, error) {
	first, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = c.watchInterval
	}

	out := make(chan domain.Job, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		job := first
		for {
			select {
			case out <- *job:
			case <-ctx.Done():
				return
			}
			if job.Status.IsTerminal() {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}

			next, err := c.store.GetByID(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					c.log(ctx).WithError(err).Warn("Watch stopped")
				}
				return
			}
			job = next
		}
	}()
	return out, nil
}

// Shutdown stops dispatch for every job this process is driving and waits for
// in-flight items to be recorded. Interrupted jobs stay running in the store
// and can be resumed.
func (c *JobController) Shutdown(ctx context.Context) error {
	c.stopAll()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
