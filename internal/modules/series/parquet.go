package series

import (
	"fmt"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/aristath/pricewatch/internal/domain"
)

// Bar is the daily bar layout of crawled market data files.
// Timestamp is unix milliseconds.
type Bar struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    int64   `parquet:"v"`
}

// LoadParquet reads bars from a Parquet file and keeps the closing prices.
// Bars with a non-finite close are dropped.
func LoadParquet(path string) (*domain.Series, error) {
	bars, err := parquet.ReadFile[Bar](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet %s: %w", path, err)
	}
	return FromBars(bars)
}

// FromBars converts bars into a series
func FromBars(bars []Bar) (*domain.Series, error) {
	points := make([]domain.PricePoint, 0, len(bars))
	for _, b := range bars {
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			continue
		}
		points = append(points, domain.PricePoint{
			Timestamp: time.UnixMilli(b.Timestamp).UTC(),
			Price:     b.Close,
		})
	}
	return build(points)
}

// WriteParquet stores s as close-only bars
func WriteParquet(path string, s *domain.Series) error {
	bars := make([]Bar, s.Len())
	for i, p := range s.Points() {
		bars[i] = Bar{Timestamp: p.Timestamp.UnixMilli(), Close: p.Price}
	}
	if err := parquet.WriteFile(path, bars); err != nil {
		return fmt.Errorf("failed to write parquet %s: %w", path, err)
	}
	return nil
}
