package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/sweepd/internal/api/middleware"
	"github.com/timmy/sweepd/internal/domain"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		invalid  *domain.InvalidParameterError
		notDone  *domain.JobNotCompletedError
		storeErr *domain.StorageError
	)

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "parameter": invalid.Parameter})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &notDone):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": notDone.Status})
	case errors.Is(err, domain.ErrJobActive), errors.Is(err, domain.ErrJobNotRunnable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &storeErr):
		middleware.GetLogger(c).WithError(err).Error("Store operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure: " + storeErr.Op})
	default:
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
