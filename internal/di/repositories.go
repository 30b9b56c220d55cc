// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/modules/runs"
	"github.com/aristath/pricewatch/internal/modules/series"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Price history (needs historyDB)
	container.History = series.NewHistoryDB(container.HistoryDB.Conn(), log)

	// Run records (needs runsDB)
	container.Runs = runs.NewRepository(container.RunsDB.Conn(), log)

	log.Info().Msg("Repositories initialized")

	return nil
}
