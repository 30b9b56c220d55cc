package autoencoder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// lstm is a single recurrent layer. Gate blocks are laid out [i | f | c | o]
// along the 4*units axis.
type lstm struct {
	name    string
	inDim   int
	units   int
	kernel  *Param // inDim x 4*units
	recur   *Param // units x 4*units
	bias    *Param // 1 x 4*units
	backend Backend
}

func newLSTM(name string, inDim, units int, src rand.Source, backend Backend) *lstm {
	bias := mat.NewDense(1, 4*units, nil)
	for j := units; j < 2*units; j++ {
		bias.Set(0, j, 1) // forget gate starts open
	}
	return &lstm{
		name:    name,
		inDim:   inDim,
		units:   units,
		kernel:  newParam(name+"/kernel", glorotUniform(inDim, 4*units, src)),
		recur:   newParam(name+"/recurrent_kernel", orthogonal(units, 4*units, src)),
		bias:    newParam(name+"/bias", bias),
		backend: backend,
	}
}

func (l *lstm) params() []*Param {
	return []*Param{l.kernel, l.recur, l.bias}
}

// lstmStep caches what the backward pass needs for one timestep.
type lstmStep struct {
	x     *mat.Dense // batch x inDim
	hPrev *mat.Dense // batch x units
	cPrev *mat.Dense // batch x units
	gates *mat.Dense // batch x 4*units, activated
	tanhC *mat.Dense // batch x units
}

// forward runs the layer over xs (one batch x inDim matrix per step) from a
// zero state and returns the hidden state of every step.
func (l *lstm) forward(xs []*mat.Dense) ([]*mat.Dense, []lstmStep) {
	batch, _ := xs[0].Dims()
	h := mat.NewDense(batch, l.units, nil)
	c := mat.NewDense(batch, l.units, nil)

	hs := make([]*mat.Dense, len(xs))
	steps := make([]lstmStep, len(xs))

	for t, x := range xs {
		z := mat.NewDense(batch, 4*l.units, nil)
		l.backend.Mul(z, x, l.kernel.Value)
		rec := mat.NewDense(batch, 4*l.units, nil)
		l.backend.Mul(rec, h, l.recur.Value)
		z.Add(z, rec)
		addRowVector(z, l.bias.Value)

		hNext := mat.NewDense(batch, l.units, nil)
		cNext := mat.NewDense(batch, l.units, nil)
		tanhC := mat.NewDense(batch, l.units, nil)

		u := l.units
		for b := 0; b < batch; b++ {
			zr := z.RawRowView(b)
			cp := c.RawRowView(b)
			cn := cNext.RawRowView(b)
			hn := hNext.RawRowView(b)
			tc := tanhC.RawRowView(b)
			for j := 0; j < u; j++ {
				i := sigmoid(zr[j])
				f := sigmoid(zr[u+j])
				g := math.Tanh(zr[2*u+j])
				o := sigmoid(zr[3*u+j])
				zr[j], zr[u+j], zr[2*u+j], zr[3*u+j] = i, f, g, o

				cn[j] = f*cp[j] + i*g
				tc[j] = math.Tanh(cn[j])
				hn[j] = o * tc[j]
			}
		}

		steps[t] = lstmStep{x: x, hPrev: h, cPrev: c, gates: z, tanhC: tanhC}
		hs[t] = hNext
		h, c = hNext, cNext
	}

	return hs, steps
}

// backward accumulates parameter gradients given the loss gradient with
// respect to each step's hidden output (nil entries mean zero). When
// wantInput is set it also returns the gradient with respect to each input.
func (l *lstm) backward(steps []lstmStep, dhs []*mat.Dense, wantInput bool) []*mat.Dense {
	batch, _ := steps[0].x.Dims()
	u := l.units

	dhNext := mat.NewDense(batch, u, nil)
	dcNext := mat.NewDense(batch, u, nil)
	var dxs []*mat.Dense
	if wantInput {
		dxs = make([]*mat.Dense, len(steps))
	}

	dKernel := mat.NewDense(l.inDim, 4*u, nil)
	dRecur := mat.NewDense(u, 4*u, nil)

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		dz := mat.NewDense(batch, 4*u, nil)

		for b := 0; b < batch; b++ {
			gr := st.gates.RawRowView(b)
			tc := st.tanhC.RawRowView(b)
			cp := st.cPrev.RawRowView(b)
			dhn := dhNext.RawRowView(b)
			dcn := dcNext.RawRowView(b)
			dzr := dz.RawRowView(b)
			var upstream []float64
			if dhs[t] != nil {
				upstream = dhs[t].RawRowView(b)
			}

			for j := 0; j < u; j++ {
				dh := dhn[j]
				if upstream != nil {
					dh += upstream[j]
				}
				i, f, g, o := gr[j], gr[u+j], gr[2*u+j], gr[3*u+j]

				dc := dcn[j] + dh*o*(1-tc[j]*tc[j])
				dzr[j] = dc * g * i * (1 - i)
				dzr[u+j] = dc * cp[j] * f * (1 - f)
				dzr[2*u+j] = dc * i * (1 - g*g)
				dzr[3*u+j] = dh * tc[j] * o * (1 - o)
				dcn[j] = dc * f
			}
		}

		l.backend.Mul(dKernel, st.x.T(), dz)
		l.kernel.Grad.Add(l.kernel.Grad, dKernel)
		l.backend.Mul(dRecur, st.hPrev.T(), dz)
		l.recur.Grad.Add(l.recur.Grad, dRecur)
		l.bias.addColSums(dz)

		// dcNext already holds dc*f for step t-1
		next := mat.NewDense(batch, u, nil)
		l.backend.Mul(next, dz, l.recur.Value.T())
		dhNext = next

		if wantInput {
			dx := mat.NewDense(batch, l.inDim, nil)
			l.backend.Mul(dx, dz, l.kernel.Value.T())
			dxs[t] = dx
		}
	}

	return dxs
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
