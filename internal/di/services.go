// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/config"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
	"github.com/aristath/pricewatch/internal/modules/checkpoint"
	"github.com/aristath/pricewatch/internal/modules/series"
	"github.com/aristath/pricewatch/internal/modules/training"
	"github.com/aristath/pricewatch/internal/objectstore"
	"github.com/aristath/pricewatch/internal/pipeline"
	"github.com/aristath/pricewatch/internal/reliability"
)

// InitializeServices creates the loader, backend, checkpoint store and detector
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Loader = series.NewLoader(container.History, log)

	backend, err := autoencoder.NewBackend(cfg.Model.Backend)
	if err != nil {
		return err
	}
	container.Backend = backend

	store, err := newCheckpointStore(ctx, container, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create %s checkpoint store: %w", cfg.Checkpoint.Store, err)
	}
	container.Checkpoints = store

	detector, err := pipeline.NewDetector(
		DetectorOptions(cfg),
		container.Loader,
		container.Backend,
		container.Checkpoints,
		container.Runs,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	container.Detector = detector

	if cfg.Backup.Schedule != "" {
		client, err := objectStore(ctx, container, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create backup object store: %w", err)
		}
		container.Backups = reliability.NewBackupService(client, container.Databases(), cfg.DataDir, log)
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("checkpoint_store", cfg.Checkpoint.Store).
		Msg("Services initialized")

	return nil
}

func newCheckpointStore(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Store {
	case checkpoint.KindFile:
		return checkpoint.NewFileStore(cfg.Checkpoint.Path, log)
	case checkpoint.KindSQLite:
		if container.CheckpointsDB == nil {
			return nil, fmt.Errorf("checkpoints database not initialized")
		}
		return checkpoint.NewSQLiteStore(container.CheckpointsDB.Conn(), log), nil
	case checkpoint.KindS3:
		client, err := objectStore(ctx, container, cfg, log)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewS3Store(client, cfg.S3.Prefix, log), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint store %q", cfg.Checkpoint.Store)
	}
}

// objectStore returns the shared S3 client, creating it on first use
func objectStore(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (*objectstore.Client, error) {
	if container.ObjectStore != nil {
		return container.ObjectStore, nil
	}
	client, err := objectstore.NewClient(ctx, objectstore.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}, log)
	if err != nil {
		return nil, err
	}
	container.ObjectStore = client
	return client, nil
}

// DetectorOptions maps the application configuration onto detector options
func DetectorOptions(cfg *config.Config) pipeline.Options {
	m := cfg.Model
	return pipeline.Options{
		SeriesID: cfg.Input.SeriesID,
		Source: series.Source{
			Format: cfg.Input.Format,
			Path:   cfg.Input.Path,
			CSV: series.CSVOptions{
				DateColumn:  cfg.Input.DateColumn,
				PriceColumn: cfg.Input.PriceColumn,
			},
			SeriesID: cfg.Input.SeriesID,
		},
		TrainFraction: m.TrainFraction,
		Model: autoencoder.Config{
			TimeSteps:    m.TimeSteps,
			Features:     1,
			HiddenUnits:  m.HiddenUnits,
			DropoutRate:  m.DropoutRate,
			LearningRate: m.LearningRate,
			Seed:         m.Seed,
		},
		Training: training.Options{
			MaxEpochs:          m.MaxEpochs,
			BatchSize:          m.BatchSize,
			ValidationFraction: m.ValidationFraction,
			Patience:           m.Patience,
		},
		Threshold:           m.Threshold,
		ThresholdPercentile: m.ThresholdPercentile,
		CheckpointKey:       cfg.Checkpoint.Key,
		CheckpointEachBest:  cfg.Checkpoint.EveryImprovement,
		OutputPath:          cfg.Output.Path,
		OutputFormat:        cfg.Output.Format,
	}
}
