package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/sweepd/internal/compute"
	"github.com/timmy/sweepd/internal/config"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/logger"
	"github.com/timmy/sweepd/internal/repository"
	"github.com/timmy/sweepd/internal/service"
	"github.com/timmy/sweepd/internal/sweep"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "sweepd-runner",
	})
	logger.SetDefaultLogger(appLogger)

	sweepFile := flag.String("file", "", "Sweep definition to run (YAML or JSON)")
	resumeID := flag.String("resume", "", "Resume an interrupted job by ID")
	cleanupDays := flag.Int("cleanup", 0, "Delete jobs older than N days and exit")
	previewOnly := flag.Bool("preview", false, "Print the expansion of -file without running it")
	concurrency := flag.Int("concurrency", 0, "Parallel work items (0 uses the configured value)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}

	if *previewOnly {
		preview(appLogger, *sweepFile)
		return
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobs := service.NewJobController(repository.NewJobRepository(db), compute.NewSlabModel(), service.ControllerOptions{
		Concurrency: cfg.Worker.Concurrency,
		ItemTimeout: cfg.Worker.ItemTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown; the job stays resumable.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, stopping dispatch...")
		cancel()
	}()

	switch {
	case *cleanupDays > 0:
		deleted, err := jobs.Cleanup(ctx, *cleanupDays)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to clean up jobs")
		}
		appLogger.WithFields(logger.Fields{
			"days":            *cleanupDays,
			logger.FieldCount: deleted,
		}).Info("Cleanup completed")

	case *resumeID != "":
		run(ctx, appLogger, jobs, *resumeID, func() error { return jobs.Resume(ctx, *resumeID) })

	case *sweepFile != "":
		def, err := sweep.LoadFile(*sweepFile)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load sweep file")
		}
		id, err := jobs.Create(ctx, def)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to create job")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldJobID: id,
			"file":            *sweepFile,
			logger.FieldTotal: def.TotalWorkItems(),
			"concurrency":     cfg.Worker.Concurrency,
		}).Info("Starting sweep")
		run(ctx, appLogger, jobs, id, func() error { return jobs.Run(ctx, id) })

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// run drives one job to the end and logs its final state.
func run(ctx context.Context, log *logger.Logger, jobs *service.JobController, id string, drive func() error) {
	start := time.Now()
	err := drive()

	job, statusErr := jobs.Status(context.WithoutCancel(ctx), id)
	if statusErr != nil {
		log.WithError(statusErr).WithField(logger.FieldJobID, id).Fatal("Failed to read job status")
	}

	fields := logger.Fields{
		logger.FieldJobID:      id,
		logger.FieldStatus:     job.Status,
		"current":              job.Progress.Current,
		logger.FieldTotal:      job.Progress.Total,
		logger.FieldFailed:     job.FailedItems,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case errors.Is(err, context.Canceled):
		log.WithFields(fields).Warn("Sweep interrupted; resume with -resume")
	case err != nil:
		log.WithFields(fields).WithError(err).Fatal("Sweep failed")
	case job.Status != domain.JobStatusCompleted:
		log.WithFields(fields).Warn("Sweep ended without completing")
	default:
		log.WithFields(fields).Info("Sweep completed")
	}
}

func preview(log *logger.Logger, path string) {
	if path == "" {
		log.Fatal("-preview requires -file")
	}
	def, err := sweep.LoadFile(path)
	if err != nil {
		log.WithError(err).Fatal("Failed to load sweep file")
	}
	p, err := sweep.NewPreview(def)
	if err != nil {
		log.WithError(err).Fatal("Invalid sweep")
	}
	for _, axis := range p.Sweeps {
		log.WithFields(logger.Fields{
			"parameter":  axis.Parameter,
			"field":      axis.Field,
			"num_points": axis.NumPoints,
			"values":     axis.Values,
		}).Info("Sweep axis")
	}
	log.WithFields(logger.Fields{
		"total_simulations":       p.TotalSimulations,
		"total_wavelength_points": p.TotalWavelengthPoints,
	}).Info("Sweep preview")
}
