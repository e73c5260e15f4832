package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus represents the lifecycle state of a sweep job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ActiveStatuses are the statuses a job can still leave.
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is a point-in-time view of how far a job has come.
// Current never exceeds Total.
type Progress struct {
	Current                   int      `gorm:"not null;default:0" json:"current"`
	Total                     int      `gorm:"not null;default:0" json:"total"`
	Percent                   float64  `gorm:"not null;default:0" json:"percent"`
	Message                   string   `gorm:"type:text" json:"message"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
}

// Job is the durable tracking record for one sweep run.
type Job struct {
	ID              string                              `gorm:"type:text;primaryKey" json:"id"`
	Status          JobStatus                           `gorm:"type:text;not null;index:idx_jobs_status;default:pending" json:"status"`
	SweepDefinition datatypes.JSONType[SweepDefinition] `gorm:"not null" json:"sweep_definition"`
	Progress        Progress                            `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	FailedItems     int                                 `gorm:"not null;default:0" json:"failed_items"`
	Error           string                              `gorm:"type:text" json:"error,omitempty"`
	StartedAt       *time.Time                          `json:"started_at,omitempty"`
	CompletedAt     *time.Time                          `json:"completed_at,omitempty"`
	CreatedAt       time.Time                           `gorm:"index:idx_jobs_created" json:"created_at"`
	UpdatedAt       time.Time                           `json:"updated_at"`

	Results []JobResult `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// Definition returns the stored sweep definition.
func (j *Job) Definition() SweepDefinition {
	return j.SweepDefinition.Data()
}

// JobResult is the output of one work item, keyed by its position in the sweep enumeration.
// A failed item is kept with Error set and a null Result.
type JobResult struct {
	ID          uint                                 `gorm:"primaryKey" json:"-"`
	JobID       string                               `gorm:"type:text;not null;uniqueIndex:idx_job_results_item,priority:1" json:"job_id"`
	ResultIndex int                                  `gorm:"not null;uniqueIndex:idx_job_results_item,priority:2" json:"result_index"`
	ConfigHash  string                               `gorm:"type:text" json:"config_hash"`
	Result      datatypes.JSONType[*SimulationResult] `json:"result"`
	Error       string                               `gorm:"type:text" json:"error,omitempty"`
	DurationMs  int64                                `json:"duration_ms"`
	CreatedAt   time.Time                            `json:"created_at"`
}

// TableName returns the database table name for JobResult.
func (JobResult) TableName() string {
	return "job_results"
}

// Failed reports whether the work item ended with a compute error.
func (r *JobResult) Failed() bool {
	return r.Error != ""
}

// Data returns the decoded simulation output, nil for failed items.
func (r *JobResult) Data() *SimulationResult {
	return r.Result.Data()
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
