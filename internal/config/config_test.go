package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PRICEWATCH_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("INPUT_PATH", "prices.csv")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 120, cfg.Model.TimeSteps)
	assert.Equal(t, 0.80, cfg.Model.TrainFraction)
	assert.Equal(t, 128, cfg.Model.HiddenUnits)
	assert.Equal(t, 0.2, cfg.Model.DropoutRate)
	assert.Equal(t, 0.0001, cfg.Model.LearningRate)
	assert.Equal(t, 32, cfg.Model.BatchSize)
	assert.Equal(t, 100, cfg.Model.MaxEpochs)
	assert.Equal(t, 5, cfg.Model.Patience)
	assert.Equal(t, 0.4, cfg.Model.Threshold)
	assert.Zero(t, cfg.Model.ThresholdPercentile)
	assert.Equal(t, "serial", cfg.Model.Backend)
	assert.Equal(t, "csv", cfg.Input.Format)
	assert.Equal(t, "Date", cfg.Input.DateColumn)
	assert.Equal(t, "Close", cfg.Input.PriceColumn)
	assert.Equal(t, "file", cfg.Checkpoint.Store)
	assert.Equal(t, filepath.Join(cfg.DataDir, "checkpoints"), cfg.Checkpoint.Path)
	assert.Equal(t, "default-best", cfg.Checkpoint.Key)
	assert.Equal(t, filepath.Join(cfg.DataDir, "anomalies.csv"), cfg.Output.Path)
	assert.Empty(t, cfg.Backup.Schedule)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, filepath.Join(cfg.DataDir, "history.db"), cfg.HistoryDBPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "runs.db"), cfg.RunsDBPath())
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PRICEWATCH_DATA_DIR", dir)
	t.Setenv("INPUT_FORMAT", "SQLITE")
	t.Setenv("SERIES_ID", "BTC")
	t.Setenv("TIME_STEPS", "30")
	t.Setenv("THRESHOLD_PERCENTILE", "99")
	t.Setenv("SEED", "1234")
	t.Setenv("BACKEND", "parallel")
	t.Setenv("CHECKPOINT_STORE", "sqlite")
	t.Setenv("CHECKPOINT_EVERY_IMPROVEMENT", "true")
	t.Setenv("OUTPUT_FORMAT", "parquet")
	t.Setenv("BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Input.Format)
	assert.Equal(t, 30, cfg.Model.TimeSteps)
	assert.Equal(t, 99.0, cfg.Model.ThresholdPercentile)
	assert.Equal(t, uint64(1234), cfg.Model.Seed)
	assert.Equal(t, "parallel", cfg.Model.Backend)
	assert.Equal(t, 32, cfg.Model.BatchSize, "unparsable values fall back to the default")
	assert.True(t, cfg.Checkpoint.EveryImprovement)
	assert.Equal(t, filepath.Join(dir, "checkpoints.db"), cfg.Checkpoint.Path)
	assert.Equal(t, "BTC-best", cfg.Checkpoint.Key)
	assert.Equal(t, filepath.Join(dir, "anomalies.parquet"), cfg.Output.Path)
}

func validConfig() *Config {
	return &Config{
		DBDriver: "sqlite",
		Input:    InputConfig{Path: "in.csv", Format: "csv"},
		Model: ModelConfig{
			TimeSteps: 10, TrainFraction: 0.8, HiddenUnits: 4, DropoutRate: 0.2,
			LearningRate: 0.001, BatchSize: 8, MaxEpochs: 5, Patience: 2,
			ValidationFraction: 0.2, Threshold: 0.4, Backend: "serial",
		},
		Checkpoint: CheckpointConfig{Store: "file"},
		Output:     OutputConfig{Format: "csv"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero time steps", func(c *Config) { c.Model.TimeSteps = 0 }},
		{"train fraction one", func(c *Config) { c.Model.TrainFraction = 1 }},
		{"train fraction zero", func(c *Config) { c.Model.TrainFraction = 0 }},
		{"dropout one", func(c *Config) { c.Model.DropoutRate = 1 }},
		{"negative learning rate", func(c *Config) { c.Model.LearningRate = -1 }},
		{"zero batch", func(c *Config) { c.Model.BatchSize = 0 }},
		{"zero epochs", func(c *Config) { c.Model.MaxEpochs = 0 }},
		{"negative patience", func(c *Config) { c.Model.Patience = -1 }},
		{"validation fraction one", func(c *Config) { c.Model.ValidationFraction = 1 }},
		{"percentile above 100", func(c *Config) { c.Model.ThresholdPercentile = 101 }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "gpu" }},
		{"unknown input format", func(c *Config) { c.Input.Format = "xlsx" }},
		{"unknown output format", func(c *Config) { c.Output.Format = "xml" }},
		{"unknown store", func(c *Config) { c.Checkpoint.Store = "redis" }},
		{"unknown driver", func(c *Config) { c.DBDriver = "postgres" }},
		{"missing input path", func(c *Config) { c.Input.Path = "" }},
		{"s3 without bucket", func(c *Config) { c.Checkpoint.Store = "s3" }},
		{"backup without bucket", func(c *Config) { c.Backup.Schedule = "@daily" }},
		{"negative retention", func(c *Config) { c.Backup.RetentionDays = -1 }},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_SQLiteInputNeedsNoPath(t *testing.T) {
	cfg := validConfig()
	cfg.Input.Format = "sqlite"
	cfg.Input.Path = ""
	assert.NoError(t, cfg.Validate())
}
