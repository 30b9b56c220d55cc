// Package windowing turns an ordered series into fixed-length overlapping
// windows with aligned next-step targets.
package windowing

import (
	"fmt"
	"math"

	"github.com/aristath/pricewatch/internal/domain"
)

// Windowize slides a window of timeSteps values across values one position at a
// time. Window i is values[i:i+timeSteps] and its target is targets[i+timeSteps].
//
// A series of length N yields N-timeSteps windows. When N <= timeSteps the
// result is empty, which is not an error.
func Windowize(values, targets []float64, timeSteps int) ([][]float64, []float64, error) {
	if timeSteps < 1 {
		return nil, nil, domain.NewDataError("windowize", fmt.Sprintf("time_steps must be >= 1, got %d", timeSteps))
	}
	if len(values) != len(targets) {
		return nil, nil, domain.NewDataError("windowize",
			fmt.Sprintf("values and targets differ in length (%d vs %d)", len(values), len(targets)))
	}
	if err := checkFinite(values); err != nil {
		return nil, nil, err
	}
	if err := checkFinite(targets); err != nil {
		return nil, nil, err
	}

	n := len(values) - timeSteps
	if n <= 0 {
		return [][]float64{}, []float64{}, nil
	}

	windows := make([][]float64, n)
	outTargets := make([]float64, n)
	for i := 0; i < n; i++ {
		w := make([]float64, timeSteps)
		copy(w, values[i:i+timeSteps])
		windows[i] = w
		outTargets[i] = targets[i+timeSteps]
	}

	return windows, outTargets, nil
}

// Count returns how many windows Windowize produces for a series of length n.
func Count(n, timeSteps int) int {
	if timeSteps < 1 || n <= timeSteps {
		return 0
	}
	return n - timeSteps
}

func checkFinite(values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewDataError("windowize", fmt.Sprintf("non-finite value at position %d", i))
		}
	}
	return nil
}
