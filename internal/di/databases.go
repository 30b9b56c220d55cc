// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/config"
	"github.com/aristath/pricewatch/internal/database"
	"github.com/aristath/pricewatch/internal/modules/checkpoint"
)

// InitializeDatabases opens the databases the configuration needs and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. history.db - Daily price series (sqlite input, SyncPrices target)
	historyDB, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath(),
		Driver:  cfg.DBDriver,
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryDB = historyDB

	// 2. runs.db - Run records, training history and scores
	runsDB, err := database.New(database.Config{
		Path:    cfg.RunsDBPath(),
		Driver:  cfg.DBDriver,
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to initialize runs database: %w", err)
	}
	container.RunsDB = runsDB

	// 3. checkpoints.db - Model snapshots, only for the sqlite store
	if cfg.Checkpoint.Store == checkpoint.KindSQLite {
		checkpointsDB, err := database.New(database.Config{
			Path:    cfg.Checkpoint.Path,
			Driver:  cfg.DBDriver,
			Profile: database.ProfileDurable, // A checkpoint must survive a crash
			Name:    "checkpoints",
		})
		if err != nil {
			historyDB.Close()
			runsDB.Close()
			return nil, fmt.Errorf("failed to initialize checkpoints database: %w", err)
		}
		container.CheckpointsDB = checkpointsDB
	}

	// Apply schemas to all databases (single source of truth)
	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("data_dir", filepath.Clean(cfg.DataDir)).
		Int("databases", len(container.Databases())).
		Msg("All databases initialized and schemas applied")

	return container, nil
}
