package series

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/database"
	"github.com/aristath/pricewatch/internal/domain"
)

// HistoryDB provides access to stored daily prices
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// GetSeries loads every stored price for seriesID in ascending order
func (h *HistoryDB) GetSeries(ctx context.Context, seriesID string) (*domain.Series, error) {
	query := `
		SELECT date, close
		FROM daily_prices
		WHERE series_id = ?
		ORDER BY date DESC
	`

	rows, err := h.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var dateUnix int64
		var close sql.NullFloat64
		if err := rows.Scan(&dateUnix, &close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if !close.Valid {
			continue
		}
		points = append(points, domain.PricePoint{
			Timestamp: time.Unix(dateUnix, 0).UTC(),
			Price:     close.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	if len(points) == 0 {
		return nil, domain.NewDataError("history", fmt.Sprintf("no prices stored for series %q", seriesID))
	}

	// Stored newest first; flip to ascending
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return domain.NewSeries(points)
}

// SyncPrices writes s into daily_prices for seriesID, replacing rows with the
// same date, in a single transaction.
func (h *HistoryDB) SyncPrices(ctx context.Context, seriesID string, s *domain.Series) error {
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_prices (series_id, date, close)
			VALUES (?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range s.Points() {
			if _, err := stmt.ExecContext(ctx, seriesID, p.Timestamp.Unix(), p.Price); err != nil {
				return fmt.Errorf("failed to insert daily price for %s: %w", p.Timestamp.Format("2006-01-02"), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Info().
		Str("series_id", seriesID).
		Int("count", s.Len()).
		Msg("Synced daily prices")

	return nil
}

// Count returns the number of stored prices for seriesID
func (h *HistoryDB) Count(ctx context.Context, seriesID string) (int, error) {
	var count int
	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices WHERE series_id = ?", seriesID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily prices: %w", err)
	}
	return count, nil
}
