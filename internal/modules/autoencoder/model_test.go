package autoencoder

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/pricewatch/internal/domain"
)

func tinyConfig() Config {
	return Config{
		TimeSteps:    4,
		Features:     1,
		HiddenUnits:  3,
		DropoutRate:  0,
		LearningRate: 0.01,
		Seed:         7,
	}
}

func sineBatch(batch, steps int) Tensor {
	x := NewTensor(batch, steps, 1)
	for b := 0; b < batch; b++ {
		for s := 0; s < steps; s++ {
			x.Set(b, s, 0, math.Sin(float64(b+s)*0.7)+0.1*float64(b))
		}
	}
	return x
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero time steps", func(c *Config) { c.TimeSteps = 0 }},
		{"zero features", func(c *Config) { c.Features = 0 }},
		{"zero units", func(c *Config) { c.HiddenUnits = 0 }},
		{"negative dropout", func(c *Config) { c.DropoutRate = -0.1 }},
		{"dropout of one", func(c *Config) { c.DropoutRate = 1 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
	}

	require.NoError(t, DefaultConfig(30).Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_SameSeedSameWeights(t *testing.T) {
	a, err := New(tinyConfig(), nil)
	require.NoError(t, err)
	b, err := New(tinyConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, a.Snapshot(), b.Snapshot())

	cfg := tinyConfig()
	cfg.Seed = 8
	c, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Snapshot().Params, c.Snapshot().Params)
}

func TestNew_Initialisation(t *testing.T) {
	cfg := tinyConfig()
	cfg.HiddenUnits = 5
	m, err := New(cfg, nil)
	require.NoError(t, err)

	// forget gate bias starts at one, the rest at zero
	bias := m.encoder.bias.Value.RawRowView(0)
	for j, v := range bias {
		if j >= 5 && j < 10 {
			assert.Equal(t, 1.0, v)
		} else {
			assert.Equal(t, 0.0, v)
		}
	}

	// LSTM(1->5), LSTM(5->5), Dense(5->1)
	want := (1*20 + 5*20 + 20) + (5*20 + 5*20 + 20) + (5 + 1)
	assert.Equal(t, want, m.ParamCount())
}

func TestOrthogonal(t *testing.T) {
	w := orthogonal(4, 16, newSource(3, streamInit))
	r, c := w.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 16, c)

	var gram mat.Dense
	gram.Mul(w, w.T())
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-10)
		}
	}
}

func TestGlorotUniform_Bounds(t *testing.T) {
	w := glorotUniform(10, 40, newSource(1, streamInit))
	limit := math.Sqrt(6.0 / 50)
	r, c := w.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.LessOrEqual(t, math.Abs(w.At(i, j)), limit)
		}
	}
}

func TestReconstruct_ShapeMismatch(t *testing.T) {
	m, err := New(tinyConfig(), nil)
	require.NoError(t, err)

	_, err = m.Reconstruct(NewTensor(2, 5, 1))
	var shapeErr *domain.ShapeError
	assert.True(t, errors.As(err, &shapeErr))

	_, err = m.TrainStep(NewTensor(2, 4, 2))
	assert.True(t, errors.As(err, &shapeErr))

	_, err = m.Loss(Tensor{Batch: 0, Steps: 4, Features: 1})
	assert.True(t, errors.As(err, &shapeErr))
}

func TestReconstruct_InferenceIsDeterministic(t *testing.T) {
	cfg := tinyConfig()
	cfg.DropoutRate = 0.5
	m, err := New(cfg, nil)
	require.NoError(t, err)

	x := sineBatch(6, cfg.TimeSteps)
	first, err := m.Reconstruct(x)
	require.NoError(t, err)
	second, err := m.Reconstruct(x)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, x.Batch, first.Batch)
	assert.Equal(t, x.Steps, first.Steps)
}

func TestTrainStep_DropoutOnlyDuringTraining(t *testing.T) {
	cfg := tinyConfig()
	cfg.DropoutRate = 0.5
	m, err := New(cfg, nil)
	require.NoError(t, err)

	x := sineBatch(8, cfg.TimeSteps)
	inference := m.forward(x, false).meanAbsError()
	training := m.forward(x, true).meanAbsError()
	assert.NotEqual(t, inference, training)

	again, err := m.Loss(x)
	require.NoError(t, err)
	assert.Equal(t, inference, again)
}

// finite differences on the mean absolute error agree with backprop
func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	m, err := New(tinyConfig(), nil)
	require.NoError(t, err)
	x := sineBatch(3, 4)

	p := m.forward(x, true)
	for _, prm := range m.Params() {
		prm.zeroGrad()
	}
	m.backward(p, x)

	const h = 1e-6
	for _, prm := range m.Params() {
		r, c := prm.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := prm.Value.At(i, j)
				prm.Value.Set(i, j, orig+h)
				plus := m.forward(x, false).meanAbsError()
				prm.Value.Set(i, j, orig-h)
				minus := m.forward(x, false).meanAbsError()
				prm.Value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * h)
				assert.InDelta(t, numeric, prm.Grad.At(i, j), 1e-6+1e-4*math.Abs(numeric),
					"%s[%d,%d]", prm.Name, i, j)
			}
		}
	}
}

func TestTrainStep_ReducesLoss(t *testing.T) {
	cfg := tinyConfig()
	cfg.HiddenUnits = 8
	m, err := New(cfg, nil)
	require.NoError(t, err)

	x := sineBatch(8, cfg.TimeSteps)
	before, err := m.Loss(x)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		_, err := m.TrainStep(x)
		require.NoError(t, err)
	}

	after, err := m.Loss(x)
	require.NoError(t, err)
	assert.Less(t, after, before)
}

func TestTrainStep_SameSeedSameTrajectory(t *testing.T) {
	cfg := tinyConfig()
	cfg.DropoutRate = 0.2
	x := sineBatch(5, cfg.TimeSteps)

	run := func() []float64 {
		m, err := New(cfg, nil)
		require.NoError(t, err)
		losses := make([]float64, 10)
		for i := range losses {
			losses[i], err = m.TrainStep(x)
			require.NoError(t, err)
		}
		return losses
	}

	assert.Equal(t, run(), run())
}

func TestBackends_Agree(t *testing.T) {
	cfg := tinyConfig()
	cfg.HiddenUnits = 6
	cfg.DropoutRate = 0.2
	x := sineBatch(16, cfg.TimeSteps)

	serial, err := New(cfg, serialBackend{})
	require.NoError(t, err)
	parallel, err := New(cfg, newParallelBackend(4, 1))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ls, err := serial.TrainStep(x)
		require.NoError(t, err)
		lp, err := parallel.TrainStep(x)
		require.NoError(t, err)
		assert.InDelta(t, ls, lp, 1e-9)
	}

	rs, err := serial.Reconstruct(x)
	require.NoError(t, err)
	rp, err := parallel.Reconstruct(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, rs.Data, rp.Data, 1e-9)
}

func TestBackends_ShapeMismatchPanicsOnCaller(t *testing.T) {
	a := mat.NewDense(8, 3, nil)
	b := mat.NewDense(4, 2, nil)

	for _, backend := range []Backend{serialBackend{}, newParallelBackend(4, 1)} {
		t.Run(backend.Name(), func(t *testing.T) {
			dst := mat.NewDense(8, 2, nil)
			defer func() {
				err, ok := recover().(error)
				require.True(t, ok, "expected an error panic")
				assert.ErrorIs(t, err, mat.ErrShape)
			}()
			backend.Mul(dst, a, b)
		})
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendSerial, b.Name())

	b, err = NewBackend("Parallel")
	require.NoError(t, err)
	assert.Equal(t, BackendParallel, b.Name())

	_, err = NewBackend("gpu")
	assert.Error(t, err)
}

func TestSnapshot_RestoreReproducesOutputs(t *testing.T) {
	cfg := tinyConfig()
	x := sineBatch(4, cfg.TimeSteps)

	m, err := New(cfg, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := m.TrainStep(x)
		require.NoError(t, err)
	}
	snap := m.Snapshot()
	want, err := m.Reconstruct(x)
	require.NoError(t, err)

	// keep training so the live weights move away from the snapshot
	for i := 0; i < 20; i++ {
		_, err := m.TrainStep(x)
		require.NoError(t, err)
	}

	restored, err := FromSnapshot(snap, nil)
	require.NoError(t, err)
	got, err := restored.Reconstruct(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)

	require.NoError(t, m.Restore(snap))
	got, err = m.Reconstruct(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	m, err := New(tinyConfig(), nil)
	require.NoError(t, err)

	snap := m.Snapshot()
	before := snap.Params[0].Data[0]
	m.Params()[0].Value.Set(0, 0, before+1)
	assert.Equal(t, before, snap.Params[0].Data[0])
}

func TestRestore_RejectsMismatchedShape(t *testing.T) {
	small, err := New(tinyConfig(), nil)
	require.NoError(t, err)

	cfg := tinyConfig()
	cfg.HiddenUnits = 4
	big, err := New(cfg, nil)
	require.NoError(t, err)

	err = small.Restore(big.Snapshot())
	var shapeErr *domain.ShapeError
	assert.True(t, errors.As(err, &shapeErr))

	truncated := small.Snapshot()
	truncated.Params = truncated.Params[:2]
	assert.Error(t, small.Restore(truncated))
}
