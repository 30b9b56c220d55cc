// Package training fits an autoencoder to windows of normal data with
// mini-batch Adam updates and validation-driven early stopping.
package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
)

// StopReason tells why the epoch loop ended
type StopReason string

const (
	// StopEarly means validation loss stopped improving for Patience epochs
	StopEarly StopReason = "early_stop"
	// StopMaxEpochs means the epoch budget ran out
	StopMaxEpochs StopReason = "max_epochs"
)

// ImprovementFunc is called each time the monitored loss reaches a new minimum.
// Returning an error aborts training.
type ImprovementFunc func(ctx context.Context, epoch int, valLoss float64, best autoencoder.Snapshot) error

// Options controls the training loop
type Options struct {
	MaxEpochs          int
	BatchSize          int
	ValidationFraction float64 // trailing share of windows held out; 0 monitors training loss
	Patience           int
	OnImprovement      ImprovementFunc
}

// DefaultOptions returns the reference training settings
func DefaultOptions() Options {
	return Options{
		MaxEpochs:          100,
		BatchSize:          32,
		ValidationFraction: 0.2,
		Patience:           5,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if o.MaxEpochs < 1 {
		return fmt.Errorf("max_epochs must be >= 1, got %d", o.MaxEpochs)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", o.BatchSize)
	}
	if o.ValidationFraction < 0 || o.ValidationFraction >= 1 {
		return fmt.Errorf("validation_fraction must be in [0, 1), got %v", o.ValidationFraction)
	}
	if o.Patience < 0 {
		return fmt.Errorf("patience must be >= 0, got %d", o.Patience)
	}
	return nil
}

// Epoch is one entry of the training history
type Epoch struct {
	Epoch     int           `json:"epoch"`
	TrainLoss float64       `json:"train_loss"`
	ValLoss   float64       `json:"val_loss"`
	Improved  bool          `json:"improved"`
	Duration  time.Duration `json:"duration"`
}

// Result summarises a finished training run. The model passed to Train has
// already been restored to Best.
type Result struct {
	History     []Epoch
	BestEpoch   int
	BestValLoss float64
	Best        autoencoder.Snapshot
	StopReason  StopReason
	TrainCount  int
	ValCount    int
	Warning     *domain.ConvergenceWarning
}

// Trainer runs the epoch loop
type Trainer struct {
	opts Options
	log  zerolog.Logger
}

// NewTrainer creates a trainer
func NewTrainer(opts Options, log zerolog.Logger) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training options: %w", err)
	}
	return &Trainer{
		opts: opts,
		log:  log.With().Str("component", "trainer").Logger(),
	}, nil
}

// SplitIndex returns the number of leading windows used for training when
// the trailing fraction is held out for validation. The boundary rounds down,
// so a fractional share goes to validation.
func SplitIndex(n int, fraction float64) int {
	return int(math.Floor(float64(n) * (1 - fraction)))
}

// Train fits model on windows. targets must be aligned with windows; the
// objective reconstructs the windows themselves.
func (t *Trainer) Train(ctx context.Context, model *autoencoder.Model, windows [][]float64, targets []float64) (*Result, error) {
	if len(windows) == 0 {
		return nil, domain.NewDataError("train", "no training windows")
	}
	if len(targets) != len(windows) {
		return nil, domain.NewDataError("train", fmt.Sprintf("%d targets for %d windows", len(targets), len(windows)))
	}

	all, err := autoencoder.FromWindows(windows)
	if err != nil {
		return nil, err
	}
	if err := model.CheckShape(all); err != nil {
		return nil, err
	}

	nTrain := len(windows)
	if t.opts.ValidationFraction > 0 {
		nTrain = SplitIndex(len(windows), t.opts.ValidationFraction)
		if nTrain < 1 || nTrain == len(windows) {
			return nil, domain.NewDataError("train",
				fmt.Sprintf("%d windows cannot be split with validation fraction %v", len(windows), t.opts.ValidationFraction))
		}
	}
	train := all.Rows(0, nTrain)
	val := all.Rows(nTrain, all.Batch)
	if t.opts.ValidationFraction == 0 {
		val = train
	}

	t.log.Info().
		Int("train_windows", train.Batch).
		Int("val_windows", all.Batch-nTrain).
		Int("batch_size", t.opts.BatchSize).
		Int("max_epochs", t.opts.MaxEpochs).
		Int("params", model.ParamCount()).
		Str("backend", model.Backend().Name()).
		Msg("Starting training")

	result := &Result{
		BestEpoch:   -1,
		BestValLoss: math.Inf(1),
		StopReason:  StopMaxEpochs,
		TrainCount:  train.Batch,
		ValCount:    all.Batch - nTrain,
	}
	wait := 0

	for epoch := 1; epoch <= t.opts.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training cancelled before epoch %d: %w", epoch, err)
		}
		start := time.Now()

		trainLoss, err := t.runEpoch(model, train, epoch)
		if err != nil {
			return nil, err
		}
		valLoss, err := meanLoss(model, val, t.opts.BatchSize)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return nil, &domain.TrainingDivergedError{Epoch: epoch, Batch: -1, Loss: valLoss}
		}

		entry := Epoch{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
			Duration:  time.Since(start),
		}

		if valLoss < result.BestValLoss {
			entry.Improved = true
			wait = 0
			result.BestValLoss = valLoss
			result.BestEpoch = epoch
			result.Best = model.Snapshot()

			t.log.Info().
				Int("epoch", epoch).
				Float64("val_loss", valLoss).
				Msg("Validation loss improved")

			if t.opts.OnImprovement != nil {
				if err := t.opts.OnImprovement(ctx, epoch, valLoss, result.Best); err != nil {
					return nil, fmt.Errorf("improvement hook failed at epoch %d: %w", epoch, err)
				}
			}
		} else {
			wait++
		}

		result.History = append(result.History, entry)
		t.log.Debug().
			Int("epoch", epoch).
			Float64("train_loss", trainLoss).
			Float64("val_loss", valLoss).
			Int("wait", wait).
			Dur("duration", entry.Duration).
			Msg("Epoch complete")

		if wait >= t.opts.Patience && !entry.Improved {
			result.StopReason = StopEarly
			t.log.Info().
				Int("epoch", epoch).
				Int("best_epoch", result.BestEpoch).
				Msg("Early stopping")
			break
		}
	}

	if result.StopReason == StopMaxEpochs {
		result.Warning = &domain.ConvergenceWarning{Epochs: t.opts.MaxEpochs}
		t.log.Warn().
			Int("epochs", t.opts.MaxEpochs).
			Float64("best_val_loss", result.BestValLoss).
			Msg(result.Warning.Error())
	}

	if err := model.Restore(result.Best); err != nil {
		return nil, fmt.Errorf("failed to restore best weights: %w", err)
	}

	return result, nil
}

// runEpoch makes one in-order pass over the training windows and returns
// the sample-weighted mean of the batch losses.
func (t *Trainer) runEpoch(model *autoencoder.Model, train autoencoder.Tensor, epoch int) (float64, error) {
	var sum float64
	for from, batch := 0, 0; from < train.Batch; from, batch = from+t.opts.BatchSize, batch+1 {
		to := min(from+t.opts.BatchSize, train.Batch)
		loss, err := model.TrainStep(train.Rows(from, to))
		if err != nil {
			return 0, fmt.Errorf("failed to train batch %d: %w", batch, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, &domain.TrainingDivergedError{Epoch: epoch, Batch: batch, Loss: loss}
		}
		sum += loss * float64(to-from)
	}
	return sum / float64(train.Batch), nil
}

// meanLoss evaluates x in inference mode, batch by batch.
func meanLoss(model *autoencoder.Model, x autoencoder.Tensor, batchSize int) (float64, error) {
	var sum float64
	for from := 0; from < x.Batch; from += batchSize {
		to := min(from+batchSize, x.Batch)
		loss, err := model.Loss(x.Rows(from, to))
		if err != nil {
			return 0, err
		}
		sum += loss * float64(to-from)
	}
	return sum / float64(x.Batch), nil
}
