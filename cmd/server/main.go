package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/sweepd/internal/api"
	"github.com/timmy/sweepd/internal/api/middleware"
	"github.com/timmy/sweepd/internal/compute"
	"github.com/timmy/sweepd/internal/config"
	"github.com/timmy/sweepd/internal/logger"
	"github.com/timmy/sweepd/internal/repository"
	"github.com/timmy/sweepd/internal/service"
	"github.com/timmy/sweepd/internal/storage"
)

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to access database handle")
	}
	defer sqlDB.Close()

	jobs := service.NewJobController(repository.NewJobRepository(db), compute.NewSlabModel(), service.ControllerOptions{
		Concurrency:   cfg.Worker.Concurrency,
		ItemTimeout:   cfg.Worker.ItemTimeout,
		WatchInterval: cfg.Progress.Interval,
	})

	ctx := context.Background()

	var exporter *service.Exporter
	if cfg.Export.Enabled {
		objectStorage, err := storage.NewStorage(cfg.Export)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize export storage")
		}
		if b, ok := objectStorage.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				appLogger.WithError(err).Fatal("Failed to ensure export bucket")
			}
		}
		exporter = service.NewExporter(jobs, objectStorage)
		appLogger.WithFields(logger.Fields{
			"bucket":   cfg.Export.Bucket,
			"endpoint": cfg.Export.Endpoint,
		}).Info("Result export enabled")
	}

	resumeInterrupted(ctx, jobs, cfg.Worker.ResumeOnStart, appLogger)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if cfg.Retention.Enabled {
		go runRetention(janitorCtx, jobs, cfg.Retention, appLogger)
	}

	router := api.SetupRouter(api.RouterDeps{
		Jobs:     jobs,
		Exporter: exporter,
		DB:       sqlDB,
		Logger:   appLogger,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		StreamInterval: cfg.Progress.Interval,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stopJanitor()

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Running jobs stop dispatching and stay resumable.
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("In-flight work items did not finish before shutdown")
	}

	appLogger.Info("Server exited")
}

// resumeInterrupted reports jobs a previous process left unfinished and, when
// enabled, restarts them.
func resumeInterrupted(ctx context.Context, jobs *service.JobController, enabled bool, log *logger.Logger) {
	resumable, err := jobs.ResumableJobs(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to list resumable jobs")
		return
	}
	if len(resumable) == 0 {
		return
	}

	log.WithFields(logger.Fields{
		logger.FieldCount: len(resumable),
		"resume":          enabled,
	}).Info("Found unfinished jobs")
	if !enabled {
		return
	}

	for _, job := range resumable {
		if err := jobs.Start(job.ID); err != nil {
			log.WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to resume job")
			continue
		}
		log.WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			"current":         job.Progress.Current,
			logger.FieldTotal: job.Progress.Total,
		}).Info("Resumed job")
	}
}

// runRetention deletes jobs past the retention window until ctx is done.
func runRetention(ctx context.Context, jobs *service.JobController, cfg config.RetentionConfig, log *logger.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		deleted, err := jobs.Cleanup(ctx, cfg.Days)
		switch {
		case err != nil && ctx.Err() == nil:
			log.WithError(err).Warn("Retention cleanup failed")
		case deleted > 0:
			log.WithFields(logger.Fields{
				logger.FieldCount: deleted,
				"days":            cfg.Days,
			}).Info("Deleted expired jobs")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
