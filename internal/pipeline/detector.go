// Package pipeline wires loading, training, scoring and reporting into a
// single detector run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
	"github.com/aristath/pricewatch/internal/modules/checkpoint"
	"github.com/aristath/pricewatch/internal/modules/report"
	"github.com/aristath/pricewatch/internal/modules/runs"
	"github.com/aristath/pricewatch/internal/modules/scaling"
	"github.com/aristath/pricewatch/internal/modules/scoring"
	"github.com/aristath/pricewatch/internal/modules/series"
	"github.com/aristath/pricewatch/internal/modules/training"
	"github.com/aristath/pricewatch/internal/modules/windowing"
	"github.com/aristath/pricewatch/internal/utils"
)

// Options configures a detector
type Options struct {
	SeriesID            string             `json:"series_id"`
	Source              series.Source      `json:"source"`
	TrainFraction       float64            `json:"train_fraction"`
	Model               autoencoder.Config `json:"model"`
	Training            training.Options   `json:"-"`
	Threshold           float64            `json:"threshold"`
	ThresholdPercentile float64            `json:"threshold_percentile,omitempty"`
	CheckpointKey       string             `json:"checkpoint_key"`
	CheckpointEachBest  bool               `json:"checkpoint_each_best"`
	OutputPath          string             `json:"output_path,omitempty"`
	OutputFormat        string             `json:"output_format,omitempty"`
}

// runConfig is what gets stored with each run record
type runConfig struct {
	Options
	MaxEpochs          int     `json:"max_epochs"`
	BatchSize          int     `json:"batch_size"`
	ValidationFraction float64 `json:"validation_fraction"`
	Patience           int     `json:"patience"`
}

// Validate checks the options before any data is touched
func (o Options) Validate() error {
	if o.TrainFraction <= 0 || o.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be in (0, 1), got %v", o.TrainFraction)
	}
	if err := o.Model.Validate(); err != nil {
		return fmt.Errorf("invalid model config: %w", err)
	}
	if o.Model.Features != 1 {
		return fmt.Errorf("univariate series need features = 1, got %d", o.Model.Features)
	}
	if err := o.Training.Validate(); err != nil {
		return fmt.Errorf("invalid training options: %w", err)
	}
	if err := checkpoint.ValidateKey(o.CheckpointKey); err != nil {
		return err
	}
	if o.OutputPath != "" && report.NewWriter(o.OutputFormat) == nil {
		return fmt.Errorf("unknown output format %q", o.OutputFormat)
	}
	return nil
}

// Result is everything a run produced
type Result struct {
	RunID         string
	Training      *training.Result // nil for Evaluate
	Threshold     scoring.Threshold
	TrainErrors   []float64
	TestErrors    []float64
	Rows          []domain.ScoredPoint
	Anomalies     []domain.ScoredPoint
	Summary       scoring.Summary
	CheckpointKey string
	ReportPath    string
	Stages        map[string]time.Duration
}

// Detector trains the autoencoder on the leading part of a series and flags
// anomalous points in the rest.
type Detector struct {
	opts    Options
	loader  *series.Loader
	backend autoencoder.Backend
	store   checkpoint.Store
	runs    *runs.Repository
	writer  report.Writer
	log     zerolog.Logger
}

// NewDetector creates a detector. runRepo may be nil to skip run records.
func NewDetector(
	opts Options,
	loader *series.Loader,
	backend autoencoder.Backend,
	store checkpoint.Store,
	runRepo *runs.Repository,
	log zerolog.Logger,
) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if loader == nil || store == nil {
		return nil, fmt.Errorf("detector needs a loader and a checkpoint store")
	}
	if backend == nil {
		backend, _ = autoencoder.NewBackend(autoencoder.BackendSerial)
	}

	var writer report.Writer
	if opts.OutputPath != "" {
		writer = report.NewWriter(opts.OutputFormat)
	}

	return &Detector{
		opts:    opts,
		loader:  loader,
		backend: backend,
		store:   store,
		runs:    runRepo,
		writer:  writer,
		log:     log.With().Str("component", "detector").Str("series", opts.SeriesID).Logger(),
	}, nil
}

// Name identifies the detector as a scheduled job
func (d *Detector) Name() string {
	return "detect_" + d.opts.SeriesID
}

// Run executes the full train-and-score pipeline once. The run is recorded
// as failed if any step returns an error.
func (d *Detector) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	var runID string
	if d.runs != nil {
		cfg := runConfig{
			Options:            d.opts,
			MaxEpochs:          d.opts.Training.MaxEpochs,
			BatchSize:          d.opts.Training.BatchSize,
			ValidationFraction: d.opts.Training.ValidationFraction,
			Patience:           d.opts.Training.Patience,
		}
		run, err := d.runs.Start(ctx, d.opts.SeriesID, cfg, d.backend.Name(), d.opts.Model.Seed, runs.CollectHostInfo(d.log))
		if err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
		runID = run.ID
	}

	res, err := d.run(ctx, runID)
	if err != nil {
		if runID != "" {
			if ferr := d.runs.Fail(context.WithoutCancel(ctx), runID, err); ferr != nil {
				d.log.Warn().Err(ferr).Str("run_id", runID).Msg("Failed to record run failure")
			}
		}
		return nil, err
	}

	d.log.Info().
		Str("run_id", runID).
		Int("test_points", res.Summary.Count).
		Int("anomalies", res.Summary.Anomalies).
		Float64("threshold", res.Threshold.Value).
		Dur("duration", time.Since(start)).
		Msg("Detection complete")

	return res, nil
}

func (d *Detector) run(ctx context.Context, runID string) (*Result, error) {
	t := d.opts.Model.TimeSteps
	timer := utils.NewStageTimer(d.log)

	done := timer.Start("load")
	s, err := d.loader.Load(ctx, d.opts.Source)
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	done = timer.Start("prepare")
	trainSeries, testSeries, err := series.Split(s, d.opts.TrainFraction)
	if err != nil {
		return nil, err
	}

	scaler, err := scaling.Fit(trainSeries.Values())
	if err != nil {
		return nil, err
	}
	d.log.Debug().
		Float64("mean", scaler.Mean).
		Float64("std", scaler.Std).
		Msg("Scaler fitted on training partition")

	trainX, trainY, testX, scaledTest, err := prepare(trainSeries, testSeries, scaler, t)
	done()
	if err != nil {
		return nil, err
	}
	if len(testX) == 0 {
		d.log.Warn().
			Int("test_points", testSeries.Len()).
			Int("time_steps", t).
			Msg("Test partition is too short to form any window")
	}

	model, err := autoencoder.New(d.opts.Model, d.backend)
	if err != nil {
		return nil, err
	}

	trainOpts := d.opts.Training
	if d.opts.CheckpointEachBest {
		trainOpts.OnImprovement = func(ctx context.Context, epoch int, valLoss float64, best autoencoder.Snapshot) error {
			return d.saveCheckpoint(ctx, best, scaler, epoch, valLoss)
		}
	}
	trainer, err := training.NewTrainer(trainOpts, d.log)
	if err != nil {
		return nil, err
	}
	done = timer.Start("train")
	trained, err := trainer.Train(ctx, model, trainX, trainY)
	done()
	if err != nil {
		return nil, err
	}

	done = timer.Start("checkpoint")
	err = d.saveCheckpoint(ctx, trained.Best, scaler, trained.BestEpoch, trained.BestValLoss)
	done()
	if err != nil {
		return nil, err
	}

	done = timer.Start("score")
	res, err := d.score(model, trainX, testX, scaledTest, scaler)
	done()
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.Training = trained
	res.CheckpointKey = d.opts.CheckpointKey

	done = timer.Start("report")
	err = d.writeReport(res)
	done()
	if err != nil {
		return nil, err
	}

	if runID != "" {
		done = timer.Start("record")
		err = d.runs.Complete(ctx, runID, outcome(trainSeries, testSeries, res), epochRecords(trained.History), res.Rows)
		done()
		if err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	res.Stages = timer.Durations()
	timer.LogSummary("Pipeline stage timings")

	return res, nil
}

// Evaluate scores the series with a previously stored checkpoint, without
// training. The stored scaler is reused so scaled units match training.
func (d *Detector) Evaluate(ctx context.Context, key string) (*Result, error) {
	cp, err := d.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	model, err := cp.Restore(d.backend)
	if err != nil {
		return nil, err
	}
	t := model.Config().TimeSteps

	s, err := d.loader.Load(ctx, d.opts.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}
	trainSeries, testSeries, err := series.Split(s, d.opts.TrainFraction)
	if err != nil {
		return nil, err
	}

	trainX, _, testX, scaledTest, err := prepare(trainSeries, testSeries, cp.Scaler, t)
	if err != nil {
		return nil, err
	}

	res, err := d.score(model, trainX, testX, scaledTest, cp.Scaler)
	if err != nil {
		return nil, err
	}
	res.CheckpointKey = key

	if err := d.writeReport(res); err != nil {
		return nil, err
	}

	d.log.Info().
		Str("checkpoint", key).
		Int("best_epoch", cp.BestEpoch).
		Int("anomalies", res.Summary.Anomalies).
		Msg("Evaluation complete")

	return res, nil
}

// prepare scales both partitions with scaler and windows them. It returns
// the train windows and targets, the test windows, and the scaled test series.
func prepare(trainSeries, testSeries *domain.Series, scaler scaling.State, timeSteps int) ([][]float64, []float64, [][]float64, *domain.Series, error) {
	trainScaled := scaling.Transform(trainSeries.Values(), scaler)
	testScaled := scaling.Transform(testSeries.Values(), scaler)

	trainX, trainY, err := windowing.Windowize(trainScaled, trainScaled, timeSteps)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	testX, _, err := windowing.Windowize(testScaled, testScaled, timeSteps)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	points := testSeries.Points()
	for i := range points {
		points[i].Price = testScaled[i]
	}
	scaledTest, err := domain.NewSeries(points)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return trainX, trainY, testX, scaledTest, nil
}

func (d *Detector) score(model *autoencoder.Model, trainX, testX [][]float64, scaledTest *domain.Series, scaler scaling.State) (*Result, error) {
	trainErrors, err := scoring.Score(model, trainX)
	if err != nil {
		return nil, fmt.Errorf("failed to score training windows: %w", err)
	}
	testErrors, err := scoring.Score(model, testX)
	if err != nil {
		return nil, fmt.Errorf("failed to score test windows: %w", err)
	}

	threshold, err := scoring.ResolveThreshold(d.opts.Threshold, d.opts.ThresholdPercentile, trainErrors)
	if err != nil {
		return nil, err
	}
	if threshold.Method == scoring.MethodPercentile {
		d.log.Info().
			Float64("percentile", threshold.Percentile).
			Float64("threshold", threshold.Value).
			Msg("Threshold derived from training error percentile")
	}

	rows, err := scoring.Label(scaledTest, testErrors, threshold.Value, model.Config().TimeSteps, scaler)
	if err != nil {
		return nil, err
	}

	return &Result{
		Threshold:   threshold,
		TrainErrors: trainErrors,
		TestErrors:  testErrors,
		Rows:        rows,
		Anomalies:   scoring.Anomalies(rows),
		Summary:     scoring.Summarize(testErrors, scoring.Classify(testErrors, threshold.Value)),
	}, nil
}

func (d *Detector) saveCheckpoint(ctx context.Context, best autoencoder.Snapshot, scaler scaling.State, epoch int, valLoss float64) error {
	cp := &checkpoint.Checkpoint{
		Version:   checkpoint.FormatVersion,
		SeriesID:  d.opts.SeriesID,
		CreatedAt: time.Now().UTC(),
		Model:     best,
		Scaler:    scaler,
		BestEpoch: epoch,
		ValLoss:   valLoss,
	}
	if err := d.store.Save(ctx, d.opts.CheckpointKey, cp); err != nil {
		return err
	}
	d.log.Debug().
		Str("key", d.opts.CheckpointKey).
		Int("epoch", epoch).
		Msg("Checkpoint saved")
	return nil
}

func (d *Detector) writeReport(res *Result) error {
	if d.writer == nil {
		return nil
	}
	if err := d.writer.Write(res.Rows, d.opts.OutputPath); err != nil {
		return fmt.Errorf("failed to write %s report: %w", d.writer.Extension(), err)
	}
	res.ReportPath = d.opts.OutputPath
	return nil
}

func outcome(trainSeries, testSeries *domain.Series, res *Result) runs.Outcome {
	return runs.Outcome{
		TrainPoints:     trainSeries.Len(),
		TestPoints:      testSeries.Len(),
		BestEpoch:       res.Training.BestEpoch,
		BestValLoss:     res.Training.BestValLoss,
		StopReason:      string(res.Training.StopReason),
		Threshold:       res.Threshold.Value,
		ThresholdMethod: res.Threshold.Method,
		Anomalies:       res.Summary.Anomalies,
		CheckpointKey:   res.CheckpointKey,
	}
}

func epochRecords(history []training.Epoch) []runs.EpochRecord {
	out := make([]runs.EpochRecord, len(history))
	for i, e := range history {
		out[i] = runs.EpochRecord{
			Epoch:     e.Epoch,
			TrainLoss: e.TrainLoss,
			ValLoss:   e.ValLoss,
			Improved:  e.Improved,
			Duration:  e.Duration,
		}
	}
	return out
}
