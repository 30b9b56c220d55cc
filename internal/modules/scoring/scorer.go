// Package scoring turns reconstruction errors into anomaly labels.
package scoring

import (
	"fmt"
	"math"

	"github.com/aristath/pricewatch/internal/modules/autoencoder"
)

// inferenceBatch bounds the size of a single forward pass when scoring.
const inferenceBatch = 256

// Score returns the mean absolute reconstruction error of each window,
// computed with dropout disabled. The same model and windows always give
// the same errors.
func Score(model *autoencoder.Model, windows [][]float64) ([]float64, error) {
	if len(windows) == 0 {
		return []float64{}, nil
	}

	x, err := autoencoder.FromWindows(windows)
	if err != nil {
		return nil, err
	}
	if err := model.CheckShape(x); err != nil {
		return nil, err
	}

	errs := make([]float64, 0, x.Batch)
	for from := 0; from < x.Batch; from += inferenceBatch {
		to := min(from+inferenceBatch, x.Batch)
		in := x.Rows(from, to)
		out, err := model.Reconstruct(in)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct windows %d-%d: %w", from, to, err)
		}
		for b := 0; b < in.Batch; b++ {
			errs = append(errs, meanAbsDiff(in.Window(b), out.Window(b)))
		}
	}
	return errs, nil
}

func meanAbsDiff(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}
