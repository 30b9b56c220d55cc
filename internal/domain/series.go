// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"time"
)

// PricePoint is a single observation of the price series
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Series is an ordered, immutable univariate price series.
// Timestamps are strictly increasing and every price is finite.
type Series struct {
	points []PricePoint
}

// NewSeries validates points and wraps them in a Series.
// Points must already be in ascending time order; loaders are responsible for sorting.
func NewSeries(points []PricePoint) (*Series, error) {
	for i, p := range points {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			return nil, NewDataError("series", fmt.Sprintf("non-finite price at position %d", i))
		}
		if i == 0 {
			continue
		}
		prev := points[i-1].Timestamp
		if p.Timestamp.Equal(prev) {
			return nil, NewDataError("series", fmt.Sprintf("duplicate timestamp %s", p.Timestamp.Format(time.RFC3339)))
		}
		if p.Timestamp.Before(prev) {
			return nil, NewDataError("series", fmt.Sprintf("timestamps not ascending at position %d", i))
		}
	}

	owned := make([]PricePoint, len(points))
	copy(owned, points)
	return &Series{points: owned}, nil
}

// Len returns the number of points
func (s *Series) Len() int {
	return len(s.points)
}

// At returns the i-th point
func (s *Series) At(i int) PricePoint {
	return s.points[i]
}

// Points returns a copy of the underlying points
func (s *Series) Points() []PricePoint {
	out := make([]PricePoint, len(s.points))
	copy(out, s.points)
	return out
}

// Values returns the prices in series order
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Price
	}
	return out
}

// Timestamps returns the timestamps in series order
func (s *Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.points))
	for i, p := range s.points {
		out[i] = p.Timestamp
	}
	return out
}

// Slice returns the sub-series [from, to). The result shares no memory with s.
func (s *Series) Slice(from, to int) *Series {
	out := make([]PricePoint, to-from)
	copy(out, s.points[from:to])
	return &Series{points: out}
}

// ScoredPoint is one row of the detection output: a test point together with
// the reconstruction error of the window that ends right before it.
type ScoredPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Loss      float64   `json:"loss"`
	Threshold float64   `json:"threshold"`
	Anomaly   bool      `json:"anomaly"`
}
