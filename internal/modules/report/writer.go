// Package report writes the scored test table to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/aristath/pricewatch/internal/domain"
)

// Output formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatJSON    = "json"
)

// Writer stores scored rows at path
type Writer interface {
	Extension() string
	Write(rows []domain.ScoredPoint, path string) error
}

// NewWriter returns the writer for format, or nil if the format is unknown
func NewWriter(format string) Writer {
	switch strings.ToLower(format) {
	case FormatCSV:
		return CSVWriter{}
	case FormatParquet:
		return ParquetWriter{}
	case FormatJSON:
		return JSONWriter{}
	default:
		return nil
	}
}

// CSVWriter writes rows with header timestamp,price,loss,threshold,anomaly
type CSVWriter struct{}

func (CSVWriter) Extension() string { return "csv" }

func (CSVWriter) Write(rows []domain.ScoredPoint, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "price", "loss", "threshold", "anomaly"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.Timestamp.UTC().Format(time.RFC3339),
			floatStr(r.Price),
			floatStr(r.Loss),
			floatStr(r.Threshold),
			strconv.FormatBool(r.Anomaly),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Row is the Parquet layout of a scored point. Timestamp is unix milliseconds.
type Row struct {
	Timestamp int64   `parquet:"t"`
	Price     float64 `parquet:"price"`
	Loss      float64 `parquet:"loss"`
	Threshold float64 `parquet:"threshold"`
	Anomaly   bool    `parquet:"anomaly"`
}

// ToRows converts scored points to their Parquet layout
func ToRows(points []domain.ScoredPoint) []Row {
	rows := make([]Row, len(points))
	for i, p := range points {
		rows[i] = Row{
			Timestamp: p.Timestamp.UnixMilli(),
			Price:     p.Price,
			Loss:      p.Loss,
			Threshold: p.Threshold,
			Anomaly:   p.Anomaly,
		}
	}
	return rows
}

// ParquetWriter writes rows as a Parquet file
type ParquetWriter struct{}

func (ParquetWriter) Extension() string { return "parquet" }

func (ParquetWriter) Write(rows []domain.ScoredPoint, path string) error {
	return parquet.WriteFile(path, ToRows(rows))
}

// JSONWriter writes rows as an indented JSON array
type JSONWriter struct{}

func (JSONWriter) Extension() string { return "json" }

func (JSONWriter) Write(rows []domain.ScoredPoint, path string) error {
	if rows == nil {
		rows = []domain.ScoredPoint{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
