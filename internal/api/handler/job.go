package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/service"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultCleanupDays = 30
)

// JobHandler handles job queries and lifecycle commands.
type JobHandler struct {
	jobs     *service.JobController
	exporter *service.Exporter
	interval time.Duration
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job controller.
//   - exporter: result exporter; nil disables the export endpoint.
//   - interval: live-progress period for the stream endpoint.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs *service.JobController, exporter *service.Exporter, interval time.Duration) *JobHandler {
	return &JobHandler{jobs: jobs, exporter: exporter, interval: interval}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &domain.InvalidParameterError{Parameter: key, Reason: "must be a non-negative integer"}
	}
	return v, nil
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(c *gin.Context) {
	filter := domain.JobFilter{Status: domain.JobStatus(c.Query("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(c, &domain.InvalidParameterError{Parameter: "status", Reason: "unknown job status"})
		return
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit", defaultListLimit); err != nil {
		respondError(c, err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		respondError(c, err)
		return
	}
	filter.Limit = min(max(filter.Limit, 1), maxListLimit)

	jobs, total, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Resumable handles GET /api/v1/jobs/resumable.
func (h *JobHandler) Resumable(c *gin.Context) {
	jobs, err := h.jobs.ResumableJobs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// Get handles GET /api/v1/jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Results handles GET /api/v1/jobs/:id/results.
func (h *JobHandler) Results(c *gin.Context) {
	id := c.Param("id")
	results, err := h.jobs.Results(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":  id,
		"total":   len(results),
		"results": results,
	})
}

// Config handles GET /api/v1/jobs/:id/config.
func (h *JobHandler) Config(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":           job.ID,
		"sweep_definition": job.Definition(),
	})
}

// Cancel handles POST /api/v1/jobs/:id/cancel.
func (h *JobHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	ok, err := h.jobs.Cancel(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if ok {
		c.JSON(http.StatusOK, gin.H{"job_id": id, "status": domain.JobStatusCancelled})
		return
	}

	job, err := h.jobs.Status(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusConflict, gin.H{
		"error":  "job already finished",
		"job_id": id,
		"status": job.Status,
	})
}

// Resume handles POST /api/v1/jobs/:id/resume.
func (h *JobHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	job, err := h.jobs.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.Status.IsTerminal() {
		respondError(c, domain.ErrJobNotRunnable)
		return
	}
	if err := h.jobs.Start(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   id,
		"status":   domain.JobStatusRunning,
		"progress": job.Progress,
	})
}

// Delete handles DELETE /api/v1/jobs/:id.
func (h *JobHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.jobs.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, domain.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "deleted": true})
}

// Cleanup handles POST /api/v1/jobs/cleanup?days=N.
func (h *JobHandler) Cleanup(c *gin.Context) {
	days, err := queryInt(c, "days", defaultCleanupDays)
	if err != nil {
		respondError(c, err)
		return
	}
	deleted, err := h.jobs.Cleanup(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "days": days})
}

// Stream handles GET /api/v1/jobs/:id/stream as server-sent events.
// A "progress" event is sent per snapshot and a final "done" event once the
// job is terminal.
func (h *JobHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	updates, err := h.jobs.Watch(ctx, c.Param("id"), h.interval)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		job, ok := <-updates
		if !ok {
			return false
		}
		event := gin.H{
			"job_id":   job.ID,
			"status":   job.Status,
			"progress": job.Progress,
			"failed":   job.FailedItems,
		}
		if job.Error != "" {
			event["error"] = job.Error
		}
		if job.Status.IsTerminal() {
			c.SSEvent("done", event)
			return false
		}
		c.SSEvent("progress", event)
		return true
	})
}

// Export handles POST /api/v1/jobs/:id/export?format=json|csv.
func (h *JobHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result export is not configured"})
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	info, err := h.exporter.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		var notDone *domain.JobNotCompletedError
		if errors.As(err, &notDone) || errors.Is(err, domain.ErrJobNotFound) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Export failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}
