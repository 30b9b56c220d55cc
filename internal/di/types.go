/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all component instances and is
 * passed to the CLI and scheduled jobs.
 */
package di

import (
	"errors"

	"github.com/aristath/pricewatch/internal/database"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
	"github.com/aristath/pricewatch/internal/modules/checkpoint"
	"github.com/aristath/pricewatch/internal/modules/runs"
	"github.com/aristath/pricewatch/internal/modules/series"
	"github.com/aristath/pricewatch/internal/objectstore"
	"github.com/aristath/pricewatch/internal/pipeline"
	"github.com/aristath/pricewatch/internal/reliability"
	"github.com/aristath/pricewatch/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: history.db (price series), runs.db (run records), checkpoints.db (sqlite store only)
 * - Repositories: HistoryDB and the run repository
 * - Services: series loader, execution backend, checkpoint store, detector and backups
 */
type Container struct {
	// Databases
	HistoryDB     *database.DB
	RunsDB        *database.DB
	CheckpointsDB *database.DB // nil unless CHECKPOINT_STORE=sqlite

	// Repositories
	History *series.HistoryDB
	Runs    *runs.Repository

	// Clients
	ObjectStore *objectstore.Client // nil unless CHECKPOINT_STORE=s3 or BACKUP_SCHEDULE is set

	// Services
	Loader      *series.Loader
	Backend     autoencoder.Backend
	Checkpoints checkpoint.Store
	Detector    *pipeline.Detector
	Backups     *reliability.BackupService // nil unless BACKUP_SCHEDULE is set
}

// JobInstances holds the constructed jobs, registered or not
type JobInstances struct {
	Detect         *scheduler.DetectJob
	WALCheckpoints *scheduler.CheckWALCheckpointsJob
	Backup         *reliability.BackupJob // nil unless backups are enabled
}

// Databases returns every open database
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.HistoryDB, c.RunsDB, c.CheckpointsDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes every open database
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
