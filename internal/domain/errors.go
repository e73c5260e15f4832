package domain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrJobNotFound is returned for any operation on an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// ErrJobActive is returned when a job is already being driven by this process.
var ErrJobActive = errors.New("job is already running")

// ErrJobNotRunnable is returned when a job's status does not allow it to be driven.
var ErrJobNotRunnable = errors.New("job cannot be run from its current status")

// InvalidParameterError reports a sweep that cannot be expanded.
type InvalidParameterError struct {
	Parameter string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	if e.Parameter == "" {
		return "invalid sweep definition: " + e.Reason
	}
	return fmt.Sprintf("invalid sweep parameter %q: %s", e.Parameter, e.Reason)
}

// ComputeError wraps the failure of a single work item.
type ComputeError struct {
	Index int
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("work item %d failed: %v", e.Index, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// JobNotCompletedError is returned when results are requested before a job completed.
type JobNotCompletedError struct {
	JobID  string
	Status JobStatus
}

func (e *JobNotCompletedError) Error() string {
	return fmt.Sprintf("job %s not completed, current status: %s", e.JobID, e.Status)
}

// StorageError wraps a durable store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the definition against its binding tags, the same rules the HTTP layer applies.
func (d SweepDefinition) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
	})
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &InvalidParameterError{
				Parameter: verrs[0].Namespace(),
				Reason:    fmt.Sprintf("failed %q check", verrs[0].Tag()),
			}
		}
		return &InvalidParameterError{Reason: err.Error()}
	}
	return nil
}
