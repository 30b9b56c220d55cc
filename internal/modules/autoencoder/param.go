package autoencoder

import (
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable weight matrix together with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(r, c, nil),
	}
}

func (p *Param) zeroGrad() {
	p.Grad.Zero()
}

// addColSums accumulates the column sums of m into the (1 x cols) gradient row.
func (p *Param) addColSums(m *mat.Dense) {
	rows, _ := m.Dims()
	grad := p.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			grad[j] += v
		}
	}
}

// addRowVector adds the (1 x cols) bias to every row of m in place.
func addRowVector(m *mat.Dense, bias *mat.Dense) {
	rows, _ := m.Dims()
	b := bias.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
}
