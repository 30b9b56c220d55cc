package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
)

// Input formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatSQLite  = "sqlite"
)

// Source describes where a series comes from
type Source struct {
	Format   string
	Path     string // file path for csv and parquet
	CSV      CSVOptions
	SeriesID string // daily_prices key for sqlite
}

// Loader reads a series from any supported source
type Loader struct {
	history *HistoryDB
	log     zerolog.Logger
}

// NewLoader creates a loader. history may be nil when the sqlite format is not used.
func NewLoader(history *HistoryDB, log zerolog.Logger) *Loader {
	return &Loader{
		history: history,
		log:     log.With().Str("component", "series_loader").Logger(),
	}
}

// Load reads the series described by src
func (l *Loader) Load(ctx context.Context, src Source) (*domain.Series, error) {
	var (
		s   *domain.Series
		err error
	)

	switch strings.ToLower(src.Format) {
	case FormatCSV, "":
		s, err = LoadCSV(src.Path, src.CSV)
	case FormatParquet:
		s, err = LoadParquet(src.Path)
	case FormatSQLite:
		if l.history == nil {
			return nil, fmt.Errorf("sqlite input requires a history database")
		}
		s, err = l.history.GetSeries(ctx, src.SeriesID)
	default:
		return nil, fmt.Errorf("unknown input format %q", src.Format)
	}
	if err != nil {
		return nil, err
	}

	event := l.log.Info().
		Str("format", src.Format).
		Int("points", s.Len())
	if s.Len() > 0 {
		event = event.
			Time("first", s.At(0).Timestamp).
			Time("last", s.At(s.Len()-1).Timestamp)
	}
	event.Msg("Loaded series")

	return s, nil
}
