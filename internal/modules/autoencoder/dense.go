package autoencoder

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// timeDistributed applies the same affine projection to every timestep.
type timeDistributed struct {
	kernel  *Param // inDim x outDim
	bias    *Param // 1 x outDim
	backend Backend
}

func newTimeDistributed(name string, inDim, outDim int, src rand.Source, backend Backend) *timeDistributed {
	return &timeDistributed{
		kernel:  newParam(name+"/kernel", glorotUniform(inDim, outDim, src)),
		bias:    newParam(name+"/bias", mat.NewDense(1, outDim, nil)),
		backend: backend,
	}
}

func (d *timeDistributed) params() []*Param {
	return []*Param{d.kernel, d.bias}
}

func (d *timeDistributed) forward(hs []*mat.Dense) []*mat.Dense {
	_, outDim := d.kernel.Value.Dims()
	ys := make([]*mat.Dense, len(hs))
	for t, h := range hs {
		batch, _ := h.Dims()
		y := mat.NewDense(batch, outDim, nil)
		d.backend.Mul(y, h, d.kernel.Value)
		addRowVector(y, d.bias.Value)
		ys[t] = y
	}
	return ys
}

// backward accumulates gradients and returns the gradient for each input step.
func (d *timeDistributed) backward(hs, dys []*mat.Dense) []*mat.Dense {
	inDim, outDim := d.kernel.Value.Dims()
	dKernel := mat.NewDense(inDim, outDim, nil)
	dhs := make([]*mat.Dense, len(hs))
	for t := range hs {
		d.backend.Mul(dKernel, hs[t].T(), dys[t])
		d.kernel.Grad.Add(d.kernel.Grad, dKernel)
		d.bias.addColSums(dys[t])

		batch, _ := dys[t].Dims()
		dh := mat.NewDense(batch, inDim, nil)
		d.backend.Mul(dh, dys[t], d.kernel.Value.T())
		dhs[t] = dh
	}
	return dhs
}
