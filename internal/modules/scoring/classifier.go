package scoring

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/scaling"
)

// DefaultThreshold is the fixed error threshold, in scaled units.
const DefaultThreshold = 0.4

// Classify flags every error strictly above threshold.
func Classify(errors []float64, threshold float64) []bool {
	flags := make([]bool, len(errors))
	for i, e := range errors {
		flags[i] = e > threshold
	}
	return flags
}

// Label builds the output table. test holds the test partition in scaled
// units; error i belongs to the window test[i:i+timeSteps] and is reported
// against the point that follows it, test[i+timeSteps]. Prices are mapped
// back to original units with scaler.
func Label(test *domain.Series, errors []float64, threshold float64, timeSteps int, scaler scaling.State) ([]domain.ScoredPoint, error) {
	want := test.Len() - timeSteps
	if want < 0 {
		want = 0
	}
	if len(errors) != want {
		return nil, domain.NewDataError("label",
			fmt.Sprintf("%d errors for %d test points with time_steps %d", len(errors), test.Len(), timeSteps))
	}

	flags := Classify(errors, threshold)
	rows := make([]domain.ScoredPoint, len(errors))
	for i, e := range errors {
		p := test.At(i + timeSteps)
		rows[i] = domain.ScoredPoint{
			Timestamp: p.Timestamp,
			Price:     scaler.InverseValue(p.Price),
			Loss:      e,
			Threshold: threshold,
			Anomaly:   flags[i],
		}
	}
	return rows, nil
}

// Anomalies filters rows down to the flagged ones
func Anomalies(rows []domain.ScoredPoint) []domain.ScoredPoint {
	var out []domain.ScoredPoint
	for _, r := range rows {
		if r.Anomaly {
			out = append(out, r)
		}
	}
	return out
}

// Threshold methods
const (
	MethodFixed      = "fixed"
	MethodPercentile = "percentile"
)

// Threshold is the resolved anomaly threshold and how it was obtained.
type Threshold struct {
	Value      float64 `json:"value"`
	Method     string  `json:"method"`
	Percentile float64 `json:"percentile,omitempty"`
}

// ResolveThreshold returns fixed unless percentile is positive, in which
// case the threshold is that percentile (0-100] of the training errors.
func ResolveThreshold(fixed, percentile float64, trainErrors []float64) (Threshold, error) {
	if percentile <= 0 {
		return Threshold{Value: fixed, Method: MethodFixed}, nil
	}
	if percentile > 100 {
		return Threshold{}, fmt.Errorf("threshold percentile must be in (0, 100], got %v", percentile)
	}
	if len(trainErrors) == 0 {
		return Threshold{}, domain.NewDataError("threshold", "no training errors to derive a percentile from")
	}

	sorted := make([]float64, len(trainErrors))
	copy(sorted, trainErrors)
	sort.Float64s(sorted)

	return Threshold{
		Value:      stat.Quantile(percentile/100, stat.Empirical, sorted, nil),
		Method:     MethodPercentile,
		Percentile: percentile,
	}, nil
}

// Summary describes an error distribution
type Summary struct {
	Count     int     `json:"count"`
	Anomalies int     `json:"anomalies"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Min       float64 `json:"min"`
	Median    float64 `json:"median"`
	P95       float64 `json:"p95"`
	Max       float64 `json:"max"`
}

// Summarize computes descriptive statistics of errors. flags may be nil.
func Summarize(errors []float64, flags []bool) Summary {
	s := Summary{Count: len(errors)}
	for _, f := range flags {
		if f {
			s.Anomalies++
		}
	}
	if len(errors) == 0 {
		return s
	}

	sorted := make([]float64, len(errors))
	copy(sorted, errors)
	sort.Float64s(sorted)

	s.Mean, s.Std = stat.PopMeanStdDev(sorted, nil)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}
