// Package di provides dependency injection for scheduled jobs.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/config"
	"github.com/aristath/pricewatch/internal/reliability"
	"github.com/aristath/pricewatch/internal/scheduler"
)

// walCheckSchedule runs the WAL check at the top of every hour
const walCheckSchedule = "0 0 * * * *"

// RegisterJobs builds the jobs and registers the scheduled ones with sched.
// sched may be nil to only build them.
func RegisterJobs(ctx context.Context, container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Detector == nil {
		return nil, fmt.Errorf("container has no detector")
	}

	jobs := &JobInstances{
		Detect:         scheduler.NewDetectJob(ctx, container.Detector, log),
		WALCheckpoints: scheduler.NewCheckWALCheckpointsJob(log, container.Databases()...),
	}

	if container.Backups != nil {
		jobs.Backup = reliability.NewBackupJob(ctx, container.Backups, cfg.Backup.RetentionDays)
	}

	if sched == nil {
		return jobs, nil
	}

	if cfg.Schedule != "" {
		if err := sched.AddJob(cfg.Schedule, jobs.Detect); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", jobs.Detect.Name(), err)
		}
		if err := sched.AddJob(walCheckSchedule, jobs.WALCheckpoints); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", jobs.WALCheckpoints.Name(), err)
		}
	}
	if jobs.Backup != nil {
		if err := sched.AddJob(cfg.Backup.Schedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", jobs.Backup.Name(), err)
		}
	}

	log.Info().Int("jobs", sched.Entries()).Msg("Jobs registered")

	return jobs, nil
}
