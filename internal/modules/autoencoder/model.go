// Package autoencoder implements the LSTM encoder-decoder that learns to
// reconstruct windows of a normal price series.
//
// The network is
//
//	LSTM(features -> units, last state) -> Dropout -> RepeatVector(steps)
//	  -> LSTM(units -> units, all states) -> Dropout -> TimeDistributed(Dense(units -> features))
//
// trained with mean absolute error and Adam. Forward and backward passes are
// written directly on gonum matrices; the Backend decides how the matrix
// products are executed.
package autoencoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/pricewatch/internal/domain"
)

// Config describes the network shape and training hyper-parameters.
type Config struct {
	TimeSteps    int     `json:"time_steps" msgpack:"time_steps"`
	Features     int     `json:"features" msgpack:"features"`
	HiddenUnits  int     `json:"hidden_units" msgpack:"hidden_units"`
	DropoutRate  float64 `json:"dropout_rate" msgpack:"dropout_rate"`
	LearningRate float64 `json:"learning_rate" msgpack:"learning_rate"`
	Seed         uint64  `json:"seed" msgpack:"seed"`
}

// DefaultConfig returns the reference configuration for the given window length.
func DefaultConfig(timeSteps int) Config {
	return Config{
		TimeSteps:    timeSteps,
		Features:     1,
		HiddenUnits:  128,
		DropoutRate:  0.2,
		LearningRate: 0.0001,
		Seed:         1,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.TimeSteps < 1 {
		return fmt.Errorf("time_steps must be >= 1, got %d", c.TimeSteps)
	}
	if c.Features < 1 {
		return fmt.Errorf("features must be >= 1, got %d", c.Features)
	}
	if c.HiddenUnits < 1 {
		return fmt.Errorf("hidden_units must be >= 1, got %d", c.HiddenUnits)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0, 1), got %v", c.DropoutRate)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0, got %v", c.LearningRate)
	}
	return nil
}

// Model owns the encoder, decoder and output projection parameters.
// It is not safe for concurrent use.
type Model struct {
	cfg     Config
	backend Backend

	encoder    *lstm
	decoder    *lstm
	output     *timeDistributed
	encDropout *dropout
	decDropout *dropout
	optimizer  *adam
}

// New builds a freshly initialised model. Identical configs (including Seed)
// yield identical weights and identical dropout mask sequences.
func New(cfg Config, backend Backend) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = serialBackend{}
	}

	initSrc := newSource(cfg.Seed, streamInit)
	dropSrc := newSource(cfg.Seed, streamDropout)

	m := &Model{
		cfg:        cfg,
		backend:    backend,
		encoder:    newLSTM("encoder", cfg.Features, cfg.HiddenUnits, initSrc, backend),
		decoder:    newLSTM("decoder", cfg.HiddenUnits, cfg.HiddenUnits, initSrc, backend),
		output:     newTimeDistributed("output", cfg.HiddenUnits, cfg.Features, initSrc, backend),
		encDropout: newDropout(cfg.DropoutRate, dropSrc),
		decDropout: newDropout(cfg.DropoutRate, dropSrc),
	}
	m.optimizer = newAdam(cfg.LearningRate, m.Params())

	return m, nil
}

// Config returns the model configuration
func (m *Model) Config() Config {
	return m.cfg
}

// Backend returns the execution backend
func (m *Model) Backend() Backend {
	return m.backend
}

// Params returns every trainable parameter in a stable order
func (m *Model) Params() []*Param {
	out := make([]*Param, 0, 8)
	out = append(out, m.encoder.params()...)
	out = append(out, m.decoder.params()...)
	out = append(out, m.output.params()...)
	return out
}

// ParamCount returns the number of scalar weights
func (m *Model) ParamCount() int {
	n := 0
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		n += r * c
	}
	return n
}

// CheckShape fails fast when x does not match the configured window shape.
func (m *Model) CheckShape(x Tensor) error {
	if x.Batch < 1 || x.Steps != m.cfg.TimeSteps || x.Features != m.cfg.Features ||
		len(x.Data) != x.Batch*x.Steps*x.Features {
		return &domain.ShapeError{
			Want: fmt.Sprintf("(batch>=1, %d, %d)", m.cfg.TimeSteps, m.cfg.Features),
			Got:  x.Shape(),
		}
	}
	return nil
}

// pass holds the intermediate values of one forward pass.
type pass struct {
	xs        []*mat.Dense
	encSteps  []lstmStep
	encMask   *mat.Dense
	decSteps  []lstmStep
	decHidden []*mat.Dense // after dropout, fed to the output layer
	decMasks  []*mat.Dense
	ys        []*mat.Dense
}

func (m *Model) forward(x Tensor, training bool) *pass {
	p := &pass{xs: make([]*mat.Dense, x.Steps)}
	for t := 0; t < x.Steps; t++ {
		p.xs[t] = x.step(t)
	}

	encHidden, encSteps := m.encoder.forward(p.xs)
	p.encSteps = encSteps
	latent := encHidden[len(encHidden)-1]
	if training && m.encDropout.active() {
		r, c := latent.Dims()
		p.encMask = m.encDropout.mask(r, c)
		latent = applyMask(latent, p.encMask)
	}

	repeated := make([]*mat.Dense, x.Steps)
	for t := range repeated {
		repeated[t] = latent
	}

	decHidden, decSteps := m.decoder.forward(repeated)
	p.decSteps = decSteps
	if training && m.decDropout.active() {
		p.decMasks = make([]*mat.Dense, len(decHidden))
		for t, h := range decHidden {
			r, c := h.Dims()
			p.decMasks[t] = m.decDropout.mask(r, c)
			decHidden[t] = applyMask(h, p.decMasks[t])
		}
	}
	p.decHidden = decHidden
	p.ys = m.output.forward(decHidden)

	return p
}

func (p *pass) output(batch, steps, features int) Tensor {
	out := NewTensor(batch, steps, features)
	for t, y := range p.ys {
		out.setStep(t, y)
	}
	return out
}

// meanAbsError averages |y - x| over every batch row, step and feature.
func (p *pass) meanAbsError() float64 {
	var sum float64
	var n int
	for t, y := range p.ys {
		r, c := y.Dims()
		for b := 0; b < r; b++ {
			yr := y.RawRowView(b)
			xr := p.xs[t].RawRowView(b)
			for f := 0; f < c; f++ {
				sum += math.Abs(yr[f] - xr[f])
			}
		}
		n += r * c
	}
	return sum / float64(n)
}

// Reconstruct runs inference (dropout disabled) and returns the reconstruction.
func (m *Model) Reconstruct(x Tensor) (Tensor, error) {
	if err := m.CheckShape(x); err != nil {
		return Tensor{}, err
	}
	p := m.forward(x, false)
	return p.output(x.Batch, x.Steps, x.Features), nil
}

// Loss returns the inference-mode mean absolute reconstruction error of x.
func (m *Model) Loss(x Tensor) (float64, error) {
	if err := m.CheckShape(x); err != nil {
		return 0, err
	}
	return m.forward(x, false).meanAbsError(), nil
}

// TrainStep runs one forward/backward pass on the batch x with dropout
// enabled, applies one Adam update and returns the batch loss measured
// before the update. A non-finite loss leaves the parameters untouched.
func (m *Model) TrainStep(x Tensor) (float64, error) {
	if err := m.CheckShape(x); err != nil {
		return 0, err
	}

	p := m.forward(x, true)
	loss := p.meanAbsError()
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, nil
	}

	for _, prm := range m.Params() {
		prm.zeroGrad()
	}
	m.backward(p, x)
	m.optimizer.step()

	return loss, nil
}

func (m *Model) backward(p *pass, x Tensor) {
	scale := 1 / float64(x.Batch*x.Steps*x.Features)

	dys := make([]*mat.Dense, len(p.ys))
	for t, y := range p.ys {
		r, c := y.Dims()
		dy := mat.NewDense(r, c, nil)
		for b := 0; b < r; b++ {
			yr := y.RawRowView(b)
			xr := p.xs[t].RawRowView(b)
			dr := dy.RawRowView(b)
			for f := 0; f < c; f++ {
				dr[f] = sign(yr[f]-xr[f]) * scale
			}
		}
		dys[t] = dy
	}

	dDecHidden := m.output.backward(p.decHidden, dys)
	if p.decMasks != nil {
		for t := range dDecHidden {
			dDecHidden[t].MulElem(dDecHidden[t], p.decMasks[t])
		}
	}

	dRepeated := m.decoder.backward(p.decSteps, dDecHidden, true)

	// RepeatVector fans one latent out to every step, so its gradient is the sum.
	r, c := dRepeated[0].Dims()
	dLatent := mat.NewDense(r, c, nil)
	for _, d := range dRepeated {
		dLatent.Add(dLatent, d)
	}
	if p.encMask != nil {
		dLatent.MulElem(dLatent, p.encMask)
	}

	dEnc := make([]*mat.Dense, len(p.encSteps))
	dEnc[len(dEnc)-1] = dLatent
	m.encoder.backward(p.encSteps, dEnc, false)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
