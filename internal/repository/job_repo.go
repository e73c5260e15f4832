package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/sweepd/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository is the durable store for jobs and their per-item results.
type JobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StorageError{Op: op, Err: err}
}

// Create inserts a new job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to persist; ID must be set.
// Returns:
//   - error: StorageError if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return storageErr("create job", r.db.WithContext(ctx).Create(job).Error)
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: domain.ErrJobNotFound if no such job, StorageError otherwise.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, storageErr("get job", err)
	}
	return &job, nil
}

// GetSweepDefinition returns the definition a job was created with.
func (r *JobRepository) GetSweepDefinition(ctx context.Context, id string) (domain.SweepDefinition, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.SweepDefinition{}, err
	}
	return job.Definition(), nil
}

// MarkRunning moves a pending or running job to running.
// started_at keeps its first value so a resumed job reports when it originally began.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - bool: false if the job is missing or already terminal.
//   - error: StorageError if the update fails.
func (r *JobRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", r.now()),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return false, storageErr("mark running", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Finish moves an active job into a terminal status. A job that is already
// terminal is left untouched, so a late completion cannot overwrite a cancellation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: terminal status to set.
//   - message: progress message to record.
//   - errMsg: job-level error text, empty unless status is failed.
// Returns:
//   - bool: true if the transition happened.
//   - error: StorageError if the update fails.
func (r *JobRepository) Finish(ctx context.Context, id string, status domain.JobStatus, message, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, storageErr("finish job", errors.New("status "+string(status)+" is not terminal"))
	}

	now := r.now()
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":                               status,
			"progress_message":                     message,
			"error":                                errMsg,
			"completed_at":                         now,
			"updated_at":                           now,
			"progress_estimated_remaining_seconds": nil,
		})
	if res.Error != nil {
		return false, storageErr("finish job", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordOutcome stores one item's result and the job's new progress in a single
// transaction. Re-recording an index replaces the earlier row. A job that is
// already terminal keeps its final message and ETA.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - result: per-item result; JobID and ResultIndex identify the row.
//   - progress: progress snapshot after this item.
//   - failedItems: number of failed items so far.
// Returns:
//   - domain.JobStatus: the job's stored status when the outcome was recorded.
//   - error: domain.ErrJobNotFound if the job vanished, StorageError otherwise.
func (r *JobRepository) RecordOutcome(ctx context.Context, result *domain.JobResult, progress domain.Progress, failedItems int) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Select("id", "status").First(&job, "id = ?", result.JobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrJobNotFound
			}
			return err
		}
		status = job.Status

		updates := map[string]interface{}{
			"progress_current": progress.Current,
			"progress_total":   progress.Total,
			"progress_percent": progress.Percent,
			"failed_items":     failedItems,
			"updated_at":       r.now(),
		}
		if !status.IsTerminal() {
			updates["progress_message"] = progress.Message
			updates["progress_estimated_remaining_seconds"] = progress.EstimatedRemainingSeconds
		}
		res := tx.Model(&domain.Job{}).Where("id = ?", result.JobID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrJobNotFound
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "result_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_hash", "result", "error", "duration_ms"}),
		}).Create(result).Error
	})
	if errors.Is(err, domain.ErrJobNotFound) {
		return "", err
	}
	if err != nil {
		return "", storageErr("record outcome", err)
	}
	return status, nil
}

// ListResults returns a job's results ordered by result index.
func (r *JobRepository) ListResults(ctx context.Context, jobID string) ([]domain.JobResult, error) {
	var results []domain.JobResult
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("result_index ASC").
		Find(&results).Error; err != nil {
		return nil, storageErr("list results", err)
	}
	return results, nil
}

// ResultIndexes returns the indexes that already have a stored result.
func (r *JobRepository) ResultIndexes(ctx context.Context, jobID string) ([]int, error) {
	var indexes []int
	if err := r.db.WithContext(ctx).Model(&domain.JobResult{}).
		Where("job_id = ?", jobID).
		Order("result_index ASC").
		Pluck("result_index", &indexes).Error; err != nil {
		return nil, storageErr("list result indexes", err)
	}
	return indexes, nil
}

// CountFailedResults returns how many stored results carry an error.
func (r *JobRepository) CountFailedResults(ctx context.Context, jobID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.JobResult{}).
		Where("job_id = ? AND error <> ''", jobID).
		Count(&count).Error; err != nil {
		return 0, storageErr("count failed results", err)
	}
	return int(count), nil
}

// List returns jobs newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filter: optional status plus limit/offset paging; Limit <= 0 means no limit.
// Returns:
//   - []domain.Job: page of jobs.
//   - int64: total number of jobs matching the filter.
//   - error: StorageError if the query fails.
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int64, error) {
	filtered := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.Job{})
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, storageErr("count jobs", err)
	}

	var jobs []domain.Job
	page := filtered().Order("created_at DESC").Order("id ASC")
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		page = page.Offset(filter.Offset)
	}
	if err := page.Find(&jobs).Error; err != nil {
		return nil, 0, storageErr("list jobs", err)
	}
	return jobs, total, nil
}

// ListResumable returns jobs that were never finished, oldest first.
func (r *JobRepository) ListResumable(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("status IN ?", domain.ActiveStatuses).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, storageErr("list resumable jobs", err)
	}
	return jobs, nil
}

// Delete removes a job and all of its results.
// Returns:
//   - bool: false if the job did not exist.
//   - error: StorageError if the delete fails.
func (r *JobRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.JobResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Job{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, storageErr("delete job", err)
	}
	return deleted > 0, nil
}

// DeleteOlderThan removes jobs created more than days ago, with their results,
// whatever their status. Jobs whose ID is in keep are left alone.
// Returns:
//   - int64: number of jobs deleted.
//   - error: StorageError if the delete fails.
func (r *JobRepository) DeleteOlderThan(ctx context.Context, days int, keep []string) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days)

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.Job{}).Where("created_at < ?", cutoff)
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&domain.JobResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&domain.Job{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, storageErr("delete old jobs", err)
	}
	return deleted, nil
}
