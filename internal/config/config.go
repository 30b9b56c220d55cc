// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for databases, checkpoints and reports (always absolute)
	LogLevel  string
	LogPretty bool
	DBDriver  string // "sqlite" (modernc) or "sqlite3" (mattn)
	Schedule  string // Optional cron expression with seconds; empty runs once

	Input      InputConfig
	Model      ModelConfig
	Checkpoint CheckpointConfig
	S3         S3Config
	Output     OutputConfig
	Backup     BackupConfig
}

// InputConfig describes the price series source
type InputConfig struct {
	Path        string
	Format      string // csv, parquet, sqlite
	DateColumn  string
	PriceColumn string
	SeriesID    string
}

// ModelConfig holds the detector hyperparameters
type ModelConfig struct {
	TimeSteps           int
	TrainFraction       float64
	HiddenUnits         int
	DropoutRate         float64
	LearningRate        float64
	BatchSize           int
	MaxEpochs           int
	Patience            int
	ValidationFraction  float64
	Threshold           float64
	ThresholdPercentile float64 // 0 keeps the fixed threshold
	Seed                uint64
	Backend             string // serial, parallel
}

// CheckpointConfig selects where the best model is stored
type CheckpointConfig struct {
	Store            string // file, sqlite, s3
	Path             string // directory for file, database path for sqlite
	Key              string // defaults to <series>-best
	EveryImprovement bool
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// BackupConfig controls database backups to the S3 bucket
type BackupConfig struct {
	Schedule      string // Optional cron expression with seconds; empty disables backups
	RetentionDays int    // 0 keeps every backup
}

// OutputConfig describes the scored table output
type OutputConfig struct {
	Path   string
	Format string // csv, parquet, json
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PRICEWATCH_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		DBDriver:  getEnv("DB_DRIVER", "sqlite"),
		Schedule:  getEnv("SCHEDULE", ""),
		Input: InputConfig{
			Path:        getEnv("INPUT_PATH", ""),
			Format:      strings.ToLower(getEnv("INPUT_FORMAT", "csv")),
			DateColumn:  getEnv("DATE_COLUMN", "Date"),
			PriceColumn: getEnv("PRICE_COLUMN", "Close"),
			SeriesID:    getEnv("SERIES_ID", "default"),
		},
		Model: ModelConfig{
			TimeSteps:           getEnvAsInt("TIME_STEPS", 120),
			TrainFraction:       getEnvAsFloat("TRAIN_FRACTION", 0.80),
			HiddenUnits:         getEnvAsInt("HIDDEN_UNITS", 128),
			DropoutRate:         getEnvAsFloat("DROPOUT_RATE", 0.2),
			LearningRate:        getEnvAsFloat("LEARNING_RATE", 0.0001),
			BatchSize:           getEnvAsInt("BATCH_SIZE", 32),
			MaxEpochs:           getEnvAsInt("MAX_EPOCHS", 100),
			Patience:            getEnvAsInt("PATIENCE", 5),
			ValidationFraction:  getEnvAsFloat("VALIDATION_FRACTION", 0.2),
			Threshold:           getEnvAsFloat("THRESHOLD", 0.4),
			ThresholdPercentile: getEnvAsFloat("THRESHOLD_PERCENTILE", 0),
			Seed:                getEnvAsUint64("SEED", 1),
			Backend:             strings.ToLower(getEnv("BACKEND", "serial")),
		},
		Checkpoint: CheckpointConfig{
			Store:            strings.ToLower(getEnv("CHECKPOINT_STORE", "file")),
			Path:             getEnv("CHECKPOINT_PATH", ""),
			Key:              getEnv("CHECKPOINT_KEY", ""),
			EveryImprovement: getEnvAsBool("CHECKPOINT_EVERY_IMPROVEMENT", false),
		},
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("S3_PREFIX", "checkpoints/"),
		},
		Output: OutputConfig{
			Path:   getEnv("OUTPUT_PATH", ""),
			Format: strings.ToLower(getEnv("OUTPUT_FORMAT", "csv")),
		},
		Backup: BackupConfig{
			Schedule:      getEnv("BACKUP_SCHEDULE", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills paths that depend on other settings
func (c *Config) applyDefaults() {
	if c.Checkpoint.Path == "" {
		switch c.Checkpoint.Store {
		case "sqlite":
			c.Checkpoint.Path = filepath.Join(c.DataDir, "checkpoints.db")
		default:
			c.Checkpoint.Path = filepath.Join(c.DataDir, "checkpoints")
		}
	}
	if c.Checkpoint.Key == "" {
		c.Checkpoint.Key = c.Input.SeriesID + "-best"
	}
	if c.Output.Path == "" {
		c.Output.Path = filepath.Join(c.DataDir, "anomalies."+c.Output.Format)
	}
}

// HistoryDBPath returns the path of the price history database
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// RunsDBPath returns the path of the run records database
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	m := c.Model
	if m.TimeSteps < 1 {
		return fmt.Errorf("TIME_STEPS must be >= 1, got %d", m.TimeSteps)
	}
	if m.TrainFraction <= 0 || m.TrainFraction >= 1 {
		return fmt.Errorf("TRAIN_FRACTION must be in (0, 1), got %v", m.TrainFraction)
	}
	if m.HiddenUnits < 1 {
		return fmt.Errorf("HIDDEN_UNITS must be >= 1, got %d", m.HiddenUnits)
	}
	if m.DropoutRate < 0 || m.DropoutRate >= 1 {
		return fmt.Errorf("DROPOUT_RATE must be in [0, 1), got %v", m.DropoutRate)
	}
	if m.LearningRate <= 0 {
		return fmt.Errorf("LEARNING_RATE must be > 0, got %v", m.LearningRate)
	}
	if m.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be >= 1, got %d", m.BatchSize)
	}
	if m.MaxEpochs < 1 {
		return fmt.Errorf("MAX_EPOCHS must be >= 1, got %d", m.MaxEpochs)
	}
	if m.Patience < 0 {
		return fmt.Errorf("PATIENCE must be >= 0, got %d", m.Patience)
	}
	if m.ValidationFraction < 0 || m.ValidationFraction >= 1 {
		return fmt.Errorf("VALIDATION_FRACTION must be in [0, 1), got %v", m.ValidationFraction)
	}
	if m.ThresholdPercentile < 0 || m.ThresholdPercentile > 100 {
		return fmt.Errorf("THRESHOLD_PERCENTILE must be in [0, 100], got %v", m.ThresholdPercentile)
	}

	if err := oneOf("BACKEND", m.Backend, "serial", "parallel"); err != nil {
		return err
	}
	if err := oneOf("INPUT_FORMAT", c.Input.Format, "csv", "parquet", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("OUTPUT_FORMAT", c.Output.Format, "csv", "parquet", "json"); err != nil {
		return err
	}
	if err := oneOf("CHECKPOINT_STORE", c.Checkpoint.Store, "file", "sqlite", "s3"); err != nil {
		return err
	}
	if err := oneOf("DB_DRIVER", c.DBDriver, "sqlite", "sqlite3"); err != nil {
		return err
	}

	if c.Input.Format != "sqlite" && c.Input.Path == "" {
		return fmt.Errorf("INPUT_PATH is required for %s input", c.Input.Format)
	}
	if c.Checkpoint.Store == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for the s3 checkpoint store")
	}
	if c.Backup.Schedule != "" && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when BACKUP_SCHEDULE is set")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must be >= 0, got %d", c.Backup.RetentionDays)
	}

	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
