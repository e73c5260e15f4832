// Package progress turns completion counts into progress snapshots.
package progress

import (
	"fmt"
	"time"

	"github.com/timmy/sweepd/internal/domain"
)

// Observe returns the progress snapshot for completed of total items after elapsed.
// The remaining-time estimate is a linear average and is nil until an item completes.
func Observe(completed, total int, elapsed time.Duration) domain.Progress {
	if completed < 0 {
		completed = 0
	}
	if total < 0 {
		total = 0
	}
	if completed > total {
		completed = total
	}

	p := domain.Progress{
		Current: completed,
		Total:   total,
		Percent: 100.0 * float64(completed) / float64(max(1, total)),
		Message: fmt.Sprintf("Completed %d/%d simulations", completed, total),
	}
	if completed > 0 {
		perItem := elapsed.Seconds() / float64(completed)
		eta := float64(total-completed) * perItem
		p.EstimatedRemainingSeconds = &eta
	}
	return p
}

// Queued returns the snapshot of a job that has not started yet.
func Queued(total int) domain.Progress {
	return domain.Progress{
		Total:   total,
		Message: "Job queued",
	}
}

// Tracker accumulates completions for one run of a job. A resumed run starts
// from the count already stored; only items finished during this run feed the
// remaining-time estimate.
type Tracker struct {
	total     int
	baseline  int
	completed int
	started   time.Time
}

// NewTracker starts tracking a run of total items of which already are done.
func NewTracker(total, already int, started time.Time) *Tracker {
	return &Tracker{total: total, baseline: already, completed: already, started: started}
}

// Completed returns the number of finished items, including earlier runs.
func (t *Tracker) Completed() int {
	return t.completed
}

// Advance records one more finished item and returns the new snapshot.
func (t *Tracker) Advance(now time.Time) domain.Progress {
	t.completed++
	p := Observe(t.completed, t.total, now.Sub(t.started))
	if t.baseline > 0 && p.EstimatedRemainingSeconds != nil {
		perItem := now.Sub(t.started).Seconds() / float64(t.completed-t.baseline)
		eta := float64(p.Total-p.Current) * perItem
		p.EstimatedRemainingSeconds = &eta
	}
	return p
}
