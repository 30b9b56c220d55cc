package autoencoder

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// dropout zeroes each unit with probability rate during training and scales
// the survivors by 1/(1-rate), so inference needs no rescaling.
type dropout struct {
	rate float64
	keep distuv.Bernoulli
}

func newDropout(rate float64, src rand.Source) *dropout {
	return &dropout{
		rate: rate,
		keep: distuv.Bernoulli{P: 1 - rate, Src: src},
	}
}

func (d *dropout) active() bool {
	return d.rate > 0
}

// mask draws a fresh (rows x cols) mask of 0 and 1/(1-rate) entries.
func (d *dropout) mask(rows, cols int) *mat.Dense {
	scale := 1 / (1 - d.rate)
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = d.keep.Rand() * scale
	}
	return mat.NewDense(rows, cols, data)
}

func applyMask(m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(m, mask)
	return out
}
