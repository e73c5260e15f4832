package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/service"
	"github.com/timmy/sweepd/internal/sweep"
)

// SweepHandler handles sweep preview and submission.
type SweepHandler struct {
	jobs *service.JobController
}

// NewSweepHandler creates a new sweep handler.
// Parameters:
//   - jobs: job controller used to create and start jobs.
// Returns:
//   - *SweepHandler: initialized handler.
func NewSweepHandler(jobs *service.JobController) *SweepHandler {
	return &SweepHandler{jobs: jobs}
}

// Preview handles POST /api/v1/sweeps/preview.
// It reports the expansion without creating a job.
func (h *SweepHandler) Preview(c *gin.Context) {
	var def domain.SweepDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	preview, err := sweep.NewPreview(def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Submit handles POST /api/v1/sweeps.
// The job is created and started in the background; the response carries its ID.
func (h *SweepHandler) Submit(c *gin.Context) {
	var def domain.SweepDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), def)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
	})
}
