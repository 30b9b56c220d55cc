package autoencoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/pricewatch/internal/domain"
)

// Tensor is a dense (batch, steps, features) array stored row-major.
type Tensor struct {
	Batch    int
	Steps    int
	Features int
	Data     []float64
}

// NewTensor allocates a zeroed tensor
func NewTensor(batch, steps, features int) Tensor {
	return Tensor{
		Batch:    batch,
		Steps:    steps,
		Features: features,
		Data:     make([]float64, batch*steps*features),
	}
}

// FromWindows packs univariate windows into a (len(windows), steps, 1) tensor.
// Every window must have the same length.
func FromWindows(windows [][]float64) (Tensor, error) {
	if len(windows) == 0 {
		return Tensor{}, domain.NewDataError("tensor", "no windows")
	}
	steps := len(windows[0])
	t := NewTensor(len(windows), steps, 1)
	for b, w := range windows {
		if len(w) != steps {
			return Tensor{}, &domain.ShapeError{
				Want: fmt.Sprintf("window length %d", steps),
				Got:  fmt.Sprintf("window %d has length %d", b, len(w)),
			}
		}
		copy(t.Data[b*steps:(b+1)*steps], w)
	}
	return t, nil
}

// At returns element (b, s, f)
func (t Tensor) At(b, s, f int) float64 {
	return t.Data[(b*t.Steps+s)*t.Features+f]
}

// Set writes element (b, s, f)
func (t Tensor) Set(b, s, f int, v float64) {
	t.Data[(b*t.Steps+s)*t.Features+f] = v
}

// Shape renders the shape for error messages
func (t Tensor) Shape() string {
	return fmt.Sprintf("(%d, %d, %d)", t.Batch, t.Steps, t.Features)
}

// Rows returns the sub-tensor holding batch rows [from, to). Data is shared.
func (t Tensor) Rows(from, to int) Tensor {
	stride := t.Steps * t.Features
	return Tensor{
		Batch:    to - from,
		Steps:    t.Steps,
		Features: t.Features,
		Data:     t.Data[from*stride : to*stride],
	}
}

// Window returns batch row b as a flat (steps*features) slice. Data is shared.
func (t Tensor) Window(b int) []float64 {
	stride := t.Steps * t.Features
	return t.Data[b*stride : (b+1)*stride]
}

// step copies timestep s of every batch row into a (batch, features) matrix.
func (t Tensor) step(s int) *mat.Dense {
	m := mat.NewDense(t.Batch, t.Features, nil)
	for b := 0; b < t.Batch; b++ {
		row := m.RawRowView(b)
		off := (b*t.Steps + s) * t.Features
		copy(row, t.Data[off:off+t.Features])
	}
	return m
}

// setStep writes a (batch, features) matrix into timestep s.
func (t Tensor) setStep(s int, m *mat.Dense) {
	for b := 0; b < t.Batch; b++ {
		row := m.RawRowView(b)
		off := (b*t.Steps + s) * t.Features
		copy(t.Data[off:off+t.Features], row)
	}
}
