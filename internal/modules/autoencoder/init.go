package autoencoder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Seed streams. Weight initialisation and dropout draw from independent
// sources derived from the same seed, so changing the dropout rate never
// changes the initial weights.
const (
	streamInit    = 0x9e3779b97f4a7c15
	streamDropout = 0xbf58476d1ce4e5b9
)

func newSource(seed, stream uint64) rand.Source {
	return rand.NewPCG(seed, stream)
}

// glorotUniform draws a rows x cols matrix from U(-l, l), l = sqrt(6/(rows+cols)).
func glorotUniform(rows, cols int, src rand.Source) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(rows, cols, data)
}

// orthogonal returns a rows x cols matrix with orthonormal rows or columns
// (whichever is shorter), taken from the QR decomposition of a Gaussian matrix.
func orthogonal(rows, cols int, src rand.Source) *mat.Dense {
	long, short := rows, cols
	if cols > rows {
		long, short = cols, rows
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := make([]float64, long*short)
	for i := range data {
		data[i] = normal.Rand()
	}
	a := mat.NewDense(long, short, data)

	var qr mat.QR
	qr.Factorize(a)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// Thin Q with the sign of R's diagonal folded in, so the result is uniformly distributed.
	thin := mat.NewDense(long, short, nil)
	thin.Copy(q.Slice(0, long, 0, short))
	for j := 0; j < short; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < long; i++ {
				thin.Set(i, j, -thin.At(i, j))
			}
		}
	}

	if rows == long {
		return thin
	}
	out := mat.NewDense(rows, cols, nil)
	out.Copy(thin.T())
	return out
}
