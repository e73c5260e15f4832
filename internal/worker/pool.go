// Package worker runs simulation tasks on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"time"

	"github.com/timmy/sweepd/internal/compute"
	"github.com/timmy/sweepd/internal/domain"
	"golang.org/x/sync/semaphore"
)

// ErrItemTimeout is wrapped into the outcome of a task that exceeded its time limit.
var ErrItemTimeout = errors.New("simulation timed out")

// Task is one work item: its position in the sweep and the configuration to run.
type Task struct {
	Index  int
	Config domain.SimulationConfig
}

// Outcome is the result of running a Task. Exactly one of Result and Err is set.
type Outcome struct {
	Task     Task
	Result   *domain.SimulationResult
	Err      error
	Duration time.Duration
}

// Summary reports how many tasks were started and how many were never started.
type Summary struct {
	Dispatched int
	Skipped    int
}

// Options configures a Pool.
type Options struct {
	// Concurrency caps simultaneous computations. Zero means runtime.NumCPU().
	Concurrency int
	// ItemTimeout bounds a single computation. Zero disables the limit.
	ItemTimeout time.Duration
}

// Pool executes tasks against a Computer.
type Pool struct {
	computer    compute.Computer
	concurrency int
	itemTimeout time.Duration
}

// NewPool creates a pool around computer.
func NewPool(computer compute.Computer, opts Options) *Pool {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool{
		computer:    computer,
		concurrency: concurrency,
		itemTimeout: opts.ItemTimeout,
	}
}

// Concurrency returns the configured upper bound on parallel computations.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Workers returns the effective parallelism for a run of total tasks.
func (p *Pool) Workers(total int) int {
	if total <= 0 {
		return 1
	}
	return max(1, min(p.concurrency, total))
}

// Execute runs tasks until the sequence is exhausted or ctx is cancelled.
//
// Cancellation is checked before each dispatch; tasks already running are allowed
// to finish and their outcomes are delivered. onComplete is called from a single
// goroutine, one outcome at a time, in completion order. A task's slot is freed
// only after onComplete returns for it, so a cancel issued from onComplete stops
// the next dispatch. Execute returns after every dispatched task has been delivered.
func (p *Pool) Execute(ctx context.Context, tasks iter.Seq[Task], total int, onComplete func(Outcome)) Summary {
	workers := p.Workers(total)
	sem := semaphore.NewWeighted(int64(workers))

	outcomes := make(chan Outcome, workers*2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range outcomes {
			onComplete(o)
			sem.Release(1)
		}
	}()

	var wg sync.WaitGroup
	dispatched := 0
	for task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}

		dispatched++
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			outcomes <- p.run(t)
		}(task)
	}

	wg.Wait()
	close(outcomes)
	<-done

	return Summary{
		Dispatched: dispatched,
		Skipped:    max(0, total-dispatched),
	}
}

func (p *Pool) run(t Task) Outcome {
	start := time.Now()
	res, err := p.computeWithLimit(t.Config)
	o := Outcome{Task: t, Duration: time.Since(start)}
	switch {
	case err != nil:
		o.Err = &domain.ComputeError{Index: t.Index, Err: err}
	case res == nil:
		o.Err = &domain.ComputeError{Index: t.Index, Err: errors.New("computation returned no result")}
	default:
		o.Result = res
	}
	return o
}

type computeReply struct {
	res *domain.SimulationResult
	err error
}

func (p *Pool) computeWithLimit(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	if p.itemTimeout <= 0 {
		return p.safeCompute(cfg)
	}

	// The computation cannot be interrupted, so on timeout it is abandoned.
	reply := make(chan computeReply, 1)
	go func() {
		res, err := p.safeCompute(cfg)
		reply <- computeReply{res: res, err: err}
	}()

	timer := time.NewTimer(p.itemTimeout)
	defer timer.Stop()
	select {
	case r := <-reply:
		return r.res, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrItemTimeout, p.itemTimeout)
	}
}

func (p *Pool) safeCompute(cfg domain.SimulationConfig) (res *domain.SimulationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("simulation panicked: %v", r)
		}
	}()
	return p.computer.Compute(cfg)
}
