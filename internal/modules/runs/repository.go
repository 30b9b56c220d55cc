// Package runs records detector runs, their training history and scores.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/database"
	"github.com/aristath/pricewatch/internal/domain"
)

// Status of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one detector execution
type Run struct {
	ID              string
	SeriesID        string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Status          Status
	ConfigJSON      string
	Backend         string
	Seed            uint64
	TrainPoints     int
	TestPoints      int
	BestEpoch       int
	BestValLoss     float64
	StopReason      string
	Threshold       float64
	ThresholdMethod string
	Anomalies       int
	CheckpointKey   string
	Error           string
	Host            HostInfo
}

// Outcome is what a successful run produced
type Outcome struct {
	TrainPoints     int
	TestPoints      int
	BestEpoch       int
	BestValLoss     float64
	StopReason      string
	Threshold       float64
	ThresholdMethod string
	Anomalies       int
	CheckpointKey   string
}

// EpochRecord is one row of training history
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Improved  bool
	Duration  time.Duration
}

// Repository persists runs in the runs database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Start inserts a new running record and returns it
func (r *Repository) Start(ctx context.Context, seriesID string, config any, backend string, seed uint64, host HostInfo) (*Run, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run config: %w", err)
	}
	hostJSON, err := json.Marshal(host)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal host info: %w", err)
	}

	run := &Run{
		ID:         uuid.New().String(),
		SeriesID:   seriesID,
		StartedAt:  time.Now().UTC(),
		Status:     StatusRunning,
		ConfigJSON: string(configJSON),
		Backend:    backend,
		Seed:       seed,
		Host:       host,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, series_id, started_at, status, config_json, backend, seed, host_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SeriesID, run.StartedAt.UnixMilli(), string(run.Status), run.ConfigJSON, run.Backend, int64(seed), string(hostJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	r.log.Debug().Str("run_id", run.ID).Msg("Run started")
	return run, nil
}

// Complete marks a run succeeded and stores its history and scores atomically
func (r *Repository) Complete(ctx context.Context, id string, out Outcome, epochs []EpochRecord, scores []domain.ScoredPoint) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET
				finished_at = ?, status = ?, train_points = ?, test_points = ?,
				best_epoch = ?, best_val_loss = ?, stop_reason = ?,
				threshold = ?, threshold_method = ?, anomalies = ?, checkpoint_key = ?
			WHERE id = ?
		`, time.Now().UTC().UnixMilli(), string(StatusSucceeded), out.TrainPoints, out.TestPoints,
			out.BestEpoch, out.BestValLoss, out.StopReason,
			out.Threshold, out.ThresholdMethod, out.Anomalies, out.CheckpointKey, id)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s not found", id)
		}

		epochStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO run_epochs (run_id, epoch, train_loss, val_loss, improved, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare epoch insert: %w", err)
		}
		defer epochStmt.Close()

		for _, e := range epochs {
			if _, err := epochStmt.ExecContext(ctx, id, e.Epoch, e.TrainLoss, e.ValLoss, boolToInt(e.Improved), e.Duration.Milliseconds()); err != nil {
				return fmt.Errorf("failed to insert epoch %d: %w", e.Epoch, err)
			}
		}

		scoreStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO run_scores (run_id, ts, price, loss, threshold, anomaly)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare score insert: %w", err)
		}
		defer scoreStmt.Close()

		for _, s := range scores {
			if _, err := scoreStmt.ExecContext(ctx, id, s.Timestamp.UnixMilli(), s.Price, s.Loss, s.Threshold, boolToInt(s.Anomaly)); err != nil {
				return fmt.Errorf("failed to insert score: %w", err)
			}
		}
		return nil
	})
}

// Fail marks a run failed with the error message
func (r *Repository) Fail(ctx context.Context, id string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?
	`, time.Now().UTC().UnixMilli(), string(StatusFailed), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT id, series_id, started_at, finished_at, status, config_json, backend, seed,
		train_points, test_points, best_epoch, best_val_loss, stop_reason,
		threshold, threshold_method, anomalies, checkpoint_key, error, host_json
	FROM runs
`

// Get returns the run with id, or nil if it does not exist
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRun+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query run: %w", err)
		}
		return nil, nil
	}
	return scanRun(rows)
}

// List returns the most recent runs first
func (r *Repository) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRun+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run                                 Run
		startedAt                           int64
		finishedAt, bestEpoch, seed         sql.NullInt64
		bestValLoss, threshold              sql.NullFloat64
		stopReason, method, ckptKey, errMsg sql.NullString
		hostJSON                            sql.NullString
		status                              string
	)

	err := rows.Scan(&run.ID, &run.SeriesID, &startedAt, &finishedAt, &status, &run.ConfigJSON, &run.Backend, &seed,
		&run.TrainPoints, &run.TestPoints, &bestEpoch, &bestValLoss, &stopReason,
		&threshold, &method, &run.Anomalies, &ckptKey, &errMsg, &hostJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = Status(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	run.Seed = uint64(seed.Int64)
	run.BestEpoch = int(bestEpoch.Int64)
	run.BestValLoss = bestValLoss.Float64
	run.StopReason = stopReason.String
	run.Threshold = threshold.Float64
	run.ThresholdMethod = method.String
	run.CheckpointKey = ckptKey.String
	run.Error = errMsg.String
	if hostJSON.Valid && hostJSON.String != "" {
		if err := json.Unmarshal([]byte(hostJSON.String), &run.Host); err != nil {
			return nil, fmt.Errorf("failed to decode host info: %w", err)
		}
	}
	return &run, nil
}

// Epochs returns the training history of a run in epoch order
func (r *Repository) Epochs(ctx context.Context, id string) ([]EpochRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT epoch, train_loss, val_loss, improved, duration_ms
		FROM run_epochs WHERE run_id = ? ORDER BY epoch
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()

	var out []EpochRecord
	for rows.Next() {
		var e EpochRecord
		var improved int
		var durationMs int64
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.ValLoss, &improved, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		e.Improved = improved != 0
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Scores returns the scored points of a run in time order
func (r *Repository) Scores(ctx context.Context, id string) ([]domain.ScoredPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, price, loss, threshold, anomaly
		FROM run_scores WHERE run_id = ? ORDER BY ts
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredPoint
	for rows.Next() {
		var p domain.ScoredPoint
		var ts int64
		var anomaly int
		if err := rows.Scan(&ts, &p.Price, &p.Loss, &p.Threshold, &anomaly); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		p.Anomaly = anomaly != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
