package training

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
)

const steps = 5

func sineWindows(n int) ([][]float64, []float64) {
	windows := make([][]float64, n)
	targets := make([]float64, n)
	for i := range windows {
		w := make([]float64, steps)
		for s := range w {
			w[s] = math.Sin(float64(i+s) * 0.3)
		}
		windows[i] = w
		targets[i] = math.Sin(float64(i+steps) * 0.3)
	}
	return windows, targets
}

func newModel(t *testing.T, lr float64) *autoencoder.Model {
	t.Helper()
	m, err := autoencoder.New(autoencoder.Config{
		TimeSteps:    steps,
		Features:     1,
		HiddenUnits:  4,
		DropoutRate:  0,
		LearningRate: lr,
		Seed:         11,
	}, nil)
	require.NoError(t, err)
	return m
}

func newTrainer(t *testing.T, opts Options) *Trainer {
	t.Helper()
	tr, err := NewTrainer(opts, zerolog.Nop())
	require.NoError(t, err)
	return tr
}

func TestSplitIndex(t *testing.T) {
	assert.Equal(t, 8, SplitIndex(10, 0.2))
	assert.Equal(t, 5, SplitIndex(7, 0.2))
	assert.Equal(t, 8, SplitIndex(11, 0.2))
	assert.Equal(t, 2541, SplitIndex(3177, 0.2))
	assert.Equal(t, 76, SplitIndex(95, 0.2))
	assert.Equal(t, 10, SplitIndex(10, 0))
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := []Options{
		{MaxEpochs: 0, BatchSize: 32, ValidationFraction: 0.2, Patience: 5},
		{MaxEpochs: 10, BatchSize: 0, ValidationFraction: 0.2, Patience: 5},
		{MaxEpochs: 10, BatchSize: 32, ValidationFraction: 1, Patience: 5},
		{MaxEpochs: 10, BatchSize: 32, ValidationFraction: -0.1, Patience: 5},
		{MaxEpochs: 10, BatchSize: 32, ValidationFraction: 0.2, Patience: -1},
	}
	for _, o := range bad {
		assert.Error(t, o.Validate())
		_, err := NewTrainer(o, zerolog.Nop())
		assert.Error(t, err)
	}
}

func TestTrain_RestoresBestSnapshot(t *testing.T) {
	windows, targets := sineWindows(40)
	model := newModel(t, 0.01)
	tr := newTrainer(t, Options{MaxEpochs: 15, BatchSize: 8, ValidationFraction: 0.2, Patience: 3})

	res, err := tr.Train(context.Background(), model, windows, targets)
	require.NoError(t, err)

	assert.Equal(t, 32, res.TrainCount)
	assert.Equal(t, 8, res.ValCount)
	require.NotEmpty(t, res.History)

	best := math.Inf(1)
	bestEpoch := 0
	for _, e := range res.History {
		if e.ValLoss < best {
			best, bestEpoch = e.ValLoss, e.Epoch
			assert.True(t, e.Improved)
		} else {
			assert.False(t, e.Improved)
		}
	}
	assert.Equal(t, bestEpoch, res.BestEpoch)
	assert.Equal(t, best, res.BestValLoss)

	// the model now carries the best weights
	val, err := autoencoder.FromWindows(windows[32:])
	require.NoError(t, err)
	got, err := meanLoss(model, val, 8)
	require.NoError(t, err)
	assert.InDelta(t, res.BestValLoss, got, 1e-12)
	assert.Equal(t, res.Best, model.Snapshot())
}

func TestTrain_ConvergenceWarningWhenEpochsRunOut(t *testing.T) {
	windows, targets := sineWindows(20)
	tr := newTrainer(t, Options{MaxEpochs: 3, BatchSize: 4, ValidationFraction: 0.2, Patience: 5})

	res, err := tr.Train(context.Background(), newModel(t, 0.001), windows, targets)
	require.NoError(t, err)

	assert.Equal(t, StopMaxEpochs, res.StopReason)
	assert.Len(t, res.History, 3)
	require.NotNil(t, res.Warning)
	assert.Equal(t, 3, res.Warning.Epochs)
}

func TestTrain_EarlyStopping(t *testing.T) {
	windows, targets := sineWindows(20)
	// a huge step size makes the validation loss bounce or saturate
	tr := newTrainer(t, Options{MaxEpochs: 100, BatchSize: 4, ValidationFraction: 0.2, Patience: 1})

	res, err := tr.Train(context.Background(), newModel(t, 5.0), windows, targets)
	require.NoError(t, err)

	assert.Equal(t, StopEarly, res.StopReason)
	assert.Nil(t, res.Warning)
	assert.Less(t, len(res.History), 100)
	last := res.History[len(res.History)-1]
	assert.False(t, last.Improved)
	assert.Equal(t, res.BestEpoch+1, last.Epoch)
}

func TestTrain_NoValidationMonitorsTrainingLoss(t *testing.T) {
	windows, targets := sineWindows(20)
	tr := newTrainer(t, Options{MaxEpochs: 100, BatchSize: 4, ValidationFraction: 0, Patience: 1})

	model := newModel(t, 5.0)
	res, err := tr.Train(context.Background(), model, windows, targets)
	require.NoError(t, err)

	assert.Equal(t, 20, res.TrainCount)
	assert.Equal(t, 0, res.ValCount)
	assert.Equal(t, StopEarly, res.StopReason)
	last := res.History[len(res.History)-1]
	assert.False(t, last.Improved)
	assert.Equal(t, res.BestEpoch+1, last.Epoch)

	// the monitored loss is the inference loss over every training window
	all, err := autoencoder.FromWindows(windows)
	require.NoError(t, err)
	got, err := meanLoss(model, all, 4)
	require.NoError(t, err)
	assert.InDelta(t, res.BestValLoss, got, 1e-12)
}

func TestTrain_ImprovementHook(t *testing.T) {
	windows, targets := sineWindows(20)
	var epochs []int
	opts := Options{
		MaxEpochs:          6,
		BatchSize:          4,
		ValidationFraction: 0.2,
		Patience:           6,
		OnImprovement: func(_ context.Context, epoch int, valLoss float64, best autoencoder.Snapshot) error {
			epochs = append(epochs, epoch)
			assert.NotEmpty(t, best.Params)
			return nil
		},
	}

	res, err := newTrainer(t, opts).Train(context.Background(), newModel(t, 0.01), windows, targets)
	require.NoError(t, err)

	var improved []int
	for _, e := range res.History {
		if e.Improved {
			improved = append(improved, e.Epoch)
		}
	}
	assert.Equal(t, improved, epochs)
	assert.Equal(t, 1, epochs[0])
}

func TestTrain_ImprovementHookErrorAborts(t *testing.T) {
	windows, targets := sineWindows(20)
	boom := errors.New("store offline")
	opts := DefaultOptions()
	opts.BatchSize = 4
	opts.OnImprovement = func(context.Context, int, float64, autoencoder.Snapshot) error { return boom }

	_, err := newTrainer(t, opts).Train(context.Background(), newModel(t, 0.01), windows, targets)
	assert.ErrorIs(t, err, boom)
}

func TestTrain_Deterministic(t *testing.T) {
	windows, targets := sineWindows(24)
	opts := Options{MaxEpochs: 4, BatchSize: 5, ValidationFraction: 0.25, Patience: 4}

	losses := func() []float64 {
		res, err := newTrainer(t, opts).Train(context.Background(), newModel(t, 0.01), windows, targets)
		require.NoError(t, err)
		out := make([]float64, 0, 2*len(res.History))
		for _, e := range res.History {
			out = append(out, e.TrainLoss, e.ValLoss)
		}
		return out
	}

	assert.Equal(t, losses(), losses())
}

func TestTrain_Diverged(t *testing.T) {
	windows := [][]float64{
		{-math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64},
		{-math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64},
	}
	opts := Options{MaxEpochs: 5, BatchSize: 2, ValidationFraction: 0, Patience: 5}

	_, err := newTrainer(t, opts).Train(context.Background(), newModel(t, 0.01), windows, []float64{0, 0})
	var diverged *domain.TrainingDivergedError
	require.True(t, errors.As(err, &diverged))
	assert.Equal(t, 1, diverged.Epoch)
	assert.Equal(t, 0, diverged.Batch)
}

func TestTrain_InputErrors(t *testing.T) {
	windows, targets := sineWindows(10)
	tr := newTrainer(t, DefaultOptions())
	var dataErr *domain.DataError

	_, err := tr.Train(context.Background(), newModel(t, 0.01), nil, nil)
	assert.True(t, errors.As(err, &dataErr))

	_, err = tr.Train(context.Background(), newModel(t, 0.01), windows, targets[:9])
	assert.True(t, errors.As(err, &dataErr))

	// a single window leaves nothing to train on
	_, err = tr.Train(context.Background(), newModel(t, 0.01), windows[:1], targets[:1])
	assert.True(t, errors.As(err, &dataErr))

	// wrong window length for the model
	short := [][]float64{{1, 2, 3}, {4, 5, 6}}
	_, err = tr.Train(context.Background(), newModel(t, 0.01), short, []float64{0, 0})
	var shapeErr *domain.ShapeError
	assert.True(t, errors.As(err, &shapeErr))
}

func TestTrain_Cancelled(t *testing.T) {
	windows, targets := sineWindows(20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTrainer(t, DefaultOptions()).Train(ctx, newModel(t, 0.01), windows, targets)
	assert.ErrorIs(t, err, context.Canceled)
}
