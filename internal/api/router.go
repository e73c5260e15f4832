package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/sweepd/internal/api/handler"
	"github.com/timmy/sweepd/internal/api/middleware"
	"github.com/timmy/sweepd/internal/logger"
	"github.com/timmy/sweepd/internal/service"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Jobs           *service.JobController
	Exporter       *service.Exporter // optional
	DB             handler.Pinger    // optional
	Logger         *logger.Logger
	CORS           middleware.CORSConfig
	StreamInterval time.Duration
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB, deps.Jobs)
	sweepHandler := handler.NewSweepHandler(deps.Jobs)
	jobHandler := handler.NewJobHandler(deps.Jobs, deps.Exporter, deps.StreamInterval)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Sweeps
		v1.POST("/sweeps/preview", sweepHandler.Preview)
		v1.POST("/sweeps", sweepHandler.Submit)

		// Jobs
		v1.GET("/jobs", jobHandler.List)
		v1.GET("/jobs/resumable", jobHandler.Resumable)
		v1.POST("/jobs/cleanup", jobHandler.Cleanup)
		v1.GET("/jobs/:id", jobHandler.Get)
		v1.DELETE("/jobs/:id", jobHandler.Delete)
		v1.GET("/jobs/:id/results", jobHandler.Results)
		v1.GET("/jobs/:id/config", jobHandler.Config)
		v1.GET("/jobs/:id/stream", jobHandler.Stream)
		v1.POST("/jobs/:id/cancel", jobHandler.Cancel)
		v1.POST("/jobs/:id/resume", jobHandler.Resume)
		v1.POST("/jobs/:id/export", jobHandler.Export)
	}

	return r
}
