// Package series loads, cleans and partitions univariate price series.
package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/pricewatch/internal/domain"
)

// CSVOptions names the columns to read. Other columns are ignored.
type CSVOptions struct {
	DateColumn  string
	PriceColumn string
}

// DefaultCSVOptions matches the usual exported quote history layout
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{DateColumn: "Date", PriceColumn: "Close"}
}

// dateLayouts are tried in order
var dateLayouts = []string{
	"2006-01-02",
	"Jan 02, 2006",
	"Jan 2, 2006",
	"01/02/2006",
	"02.01.2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// LoadCSV reads a price series from a CSV file
func LoadCSV(path string, opts CSVOptions) (*domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s, nil
}

// ReadCSV parses a header-led CSV stream. Rows with a missing date or price
// are dropped, thousands separators are stripped, and the result is sorted
// ascending by time.
func ReadCSV(r io.Reader, opts CSVOptions) (*domain.Series, error) {
	if opts.DateColumn == "" || opts.PriceColumn == "" {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewDataError("csv", "empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	dateIdx, priceIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, opts.DateColumn):
			dateIdx = i
		case strings.EqualFold(name, opts.PriceColumn):
			priceIdx = i
		}
	}
	if dateIdx < 0 || priceIdx < 0 {
		return nil, domain.NewDataError("csv",
			fmt.Sprintf("columns %q and %q are required, header is %v", opts.DateColumn, opts.PriceColumn, header))
	}

	var points []domain.PricePoint
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if dateIdx >= len(record) || priceIdx >= len(record) {
			continue
		}

		rawDate, rawPrice := strings.TrimSpace(record[dateIdx]), strings.TrimSpace(record[priceIdx])
		if isMissing(rawDate) || isMissing(rawPrice) {
			continue
		}

		ts, err := ParseDate(rawDate)
		if err != nil {
			return nil, domain.NewDataError("csv", fmt.Sprintf("line %d: %v", line, err))
		}
		price, err := ParsePrice(rawPrice)
		if err != nil {
			return nil, domain.NewDataError("csv", fmt.Sprintf("line %d: %v", line, err))
		}
		points = append(points, domain.PricePoint{Timestamp: ts, Price: price})
	}

	return build(points)
}

// ParseDate parses a date in any of the supported layouts, in UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParsePrice parses a price, ignoring thousands separators.
func ParsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return v, nil
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "nan", "-", "n/a", "na":
		return true
	}
	return false
}

// build sorts points ascending by time and validates them.
func build(points []domain.PricePoint) (*domain.Series, error) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return domain.NewSeries(points)
}
