// Package scaling implements the standardisation transform fit on the training partition.
package scaling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/pricewatch/internal/domain"
)

// State holds the fitted transform parameters.
// Std is the population standard deviation, matching a standard scaler.
type State struct {
	Mean float64 `json:"mean" msgpack:"mean"`
	Std  float64 `json:"std" msgpack:"std"`
	// Count is the number of training values the state was fit on
	Count int `json:"count" msgpack:"count"`
}

// Fit computes mean and standard deviation from the training values only.
// A constant training series (std == 0) is rejected with a DataError rather
// than silently skipping the transform.
func Fit(train []float64) (State, error) {
	if len(train) == 0 {
		return State{}, domain.NewDataError("scaler fit", "empty training partition")
	}
	for i, v := range train {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return State{}, domain.NewDataError("scaler fit", fmt.Sprintf("non-finite value at position %d", i))
		}
	}

	mean, std := stat.PopMeanStdDev(train, nil)
	if std == 0 || math.IsNaN(std) {
		return State{}, domain.NewDataError("scaler fit", "training partition has zero variance")
	}

	return State{Mean: mean, Std: std, Count: len(train)}, nil
}

// Transform returns (v - mean) / std for each value. The input is not modified.
func Transform(values []float64, s State) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - s.Mean) / s.Std
	}
	return out
}

// InverseTransform maps scaled values back to the original units.
func InverseTransform(scaled []float64, s State) []float64 {
	out := make([]float64, len(scaled))
	for i, v := range scaled {
		out[i] = v*s.Std + s.Mean
	}
	return out
}

// TransformValue scales a single value
func (s State) TransformValue(v float64) float64 {
	return (v - s.Mean) / s.Std
}

// InverseValue unscales a single value
func (s State) InverseValue(v float64) float64 {
	return v*s.Std + s.Mean
}

// Validate reports whether s can be used to transform data
func (s State) Validate() error {
	if s.Std == 0 || math.IsNaN(s.Std) || math.IsInf(s.Std, 0) || math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) {
		return domain.NewDataError("scaler", "state is not fitted")
	}
	return nil
}
