// Package scheduler runs orphan cleanup on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
)

const defaultJobTimeout = 30 * time.Minute

// Cleaner is the part of the cleanup engine the scheduled job needs.
type Cleaner interface {
	CleanupDetected(ctx context.Context, dryRun bool, opType media.OperationType) (*media.CleanupResult, error)
}

// ProgressPruner drops stale upload progress entries.
type ProgressPruner interface {
	PruneProgress() int
}

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	logger = logger.With("system", "cron")

	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithChain(
			NewPanicRecoveryWrapper(logger),
			NewLoggingWrapper(logger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		),
	)

	return &Scheduler{cron: c, logger: logger}
}

// RegisterCleanup adds the scheduled cleanup job. An empty schedule disables it.
func (s *Scheduler) RegisterCleanup(cfg config.Cleanup, cleaner Cleaner) error {
	if cfg.Schedule == "" {
		s.logger.Info("scheduled cleanup disabled")
		return nil
	}

	job := &CleanupJob{cleaner: cleaner, dryRun: cfg.ScheduledDryRun, timeout: defaultJobTimeout, logger: s.logger}
	if _, err := s.cron.AddJob(cfg.Schedule, job); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}

	s.logger.Info("registered cleanup job", "schedule", cfg.Schedule, "dry_run", cfg.ScheduledDryRun)
	return nil
}

// RegisterProgressPrune drops stale upload progress entries every minute.
func (s *Scheduler) RegisterProgressPrune(p ProgressPruner) error {
	if _, err := s.cron.AddJob("@every 1m", &PruneJob{pruner: p}); err != nil {
		return fmt.Errorf("register prune job: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopped")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// CleanupJob finds orphans past the grace window and cleans them up as a
// scheduled operation.
type CleanupJob struct {
	cleaner Cleaner
	dryRun  bool
	timeout time.Duration
	logger  *slog.Logger
}

func (j *CleanupJob) Name() string { return "OrphanCleanupJob" }

func (j *CleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	res, err := j.cleaner.CleanupDetected(ctx, j.dryRun, media.OperationScheduled)
	if err != nil {
		j.logger.Error("scheduled cleanup failed", slog.Any("error", err))
		return
	}

	j.logger.Info("scheduled cleanup done",
		slog.String("operation_id", res.OperationID),
		slog.Int("processed", res.Processed),
		slog.Int("deleted", res.Deleted),
		slog.Int("failed", res.Failed),
		slog.Bool("dry_run", res.DryRun),
		slog.String("freed", humanize.IBytes(uint64(res.FreedSpace))),
	)
}

type PruneJob struct {
	pruner ProgressPruner
}

func (j *PruneJob) Name() string { return "UploadProgressPruneJob" }

func (j *PruneJob) Run() {
	j.pruner.PruneProgress()
}
