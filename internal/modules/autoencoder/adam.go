package autoencoder

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// adam keeps first and second moment estimates for every parameter.
type adam struct {
	lr     float64
	t      int
	params []*Param
	m      []*mat.Dense
	v      []*mat.Dense
}

func newAdam(lr float64, params []*Param) *adam {
	a := &adam{
		lr:     lr,
		params: params,
		m:      make([]*mat.Dense, len(params)),
		v:      make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a
}

// step applies one bias-corrected update using the accumulated gradients.
func (a *adam) step() {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))
	lrT := a.lr * math.Sqrt(c2) / c1

	for i, p := range a.params {
		rows, _ := p.Value.Dims()
		for r := 0; r < rows; r++ {
			w := p.Value.RawRowView(r)
			g := p.Grad.RawRowView(r)
			m := a.m[i].RawRowView(r)
			v := a.v[i].RawRowView(r)
			for j := range w {
				m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
				v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
				w[j] -= lrT * m[j] / (math.Sqrt(v[j]) + adamEpsilon)
			}
		}
	}
}

// reset clears the moment estimates, used after restoring weights.
func (a *adam) reset() {
	a.t = 0
	for i := range a.m {
		a.m[i].Zero()
		a.v[i].Zero()
	}
}
