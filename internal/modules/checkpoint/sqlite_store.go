package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
)

// SQLiteStore keeps encoded checkpoints as BLOBs in the checkpoints table
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore creates a store on a migrated checkpoints database
func NewSQLiteStore(db *sql.DB, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "checkpoint_store").Str("kind", KindSQLite).Logger(),
	}
}

// Save upserts the checkpoint under key
func (s *SQLiteStore) Save(ctx context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := Encode(cp)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (key, version, payload, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, key, cp.Version, data, len(data), time.Now().Unix())
	if err != nil {
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}

	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("Saved checkpoint")
	return nil
}

// Load reads and decodes the checkpoint stored under key
func (s *SQLiteStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM checkpoints WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: err}
	}

	cp, err := Decode(data)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: err}
	}
	return cp, nil
}

// List returns the stored checkpoints sorted by key
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, size, updated_at FROM checkpoints ORDER BY key")
	if err != nil {
		return nil, &domain.CheckpointError{Op: "list", Err: err}
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updated int64
		if err := rows.Scan(&info.Key, &info.Size, &updated); err != nil {
			return nil, &domain.CheckpointError{Op: "list", Err: err}
		}
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.CheckpointError{Op: "list", Err: err}
	}
	return infos, nil
}
