// Package checkpoint persists trained models together with the scaler
// they were trained against.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
	"github.com/aristath/pricewatch/internal/modules/scaling"
)

// FormatVersion is bumped whenever the encoded layout changes
const FormatVersion = 1

// ErrNotFound is wrapped in the CheckpointError returned for a missing key
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is everything needed to score new data without retraining.
type Checkpoint struct {
	Version   int                  `msgpack:"version"`
	SeriesID  string               `msgpack:"series_id"`
	CreatedAt time.Time            `msgpack:"created_at"`
	Model     autoencoder.Snapshot `msgpack:"model"`
	Scaler    scaling.State        `msgpack:"scaler"`
	BestEpoch int                  `msgpack:"best_epoch"`
	ValLoss   float64              `msgpack:"val_loss"`
}

// Info describes a stored checkpoint without decoding it
type Info struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}

// Store saves and loads checkpoints by key
type Store interface {
	Save(ctx context.Context, key string, cp *Checkpoint) error
	Load(ctx context.Context, key string) (*Checkpoint, error)
	List(ctx context.Context) ([]Info, error)
}

// Store kinds
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindS3     = "s3"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateKey rejects keys that could escape a directory or prefix
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return &domain.CheckpointError{Op: "validate", Key: key, Err: fmt.Errorf("invalid key")}
	}
	return nil
}

// Encode serialises cp with msgpack
func Encode(cp *Checkpoint) ([]byte, error) {
	if cp.Version == 0 {
		cp.Version = FormatVersion
	}
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "encode", Err: err}
	}
	return data, nil
}

// Decode parses a msgpack checkpoint and checks its version
func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, &domain.CheckpointError{Op: "decode", Err: err}
	}
	if cp.Version != FormatVersion {
		return nil, &domain.CheckpointError{
			Op:  "decode",
			Err: fmt.Errorf("unsupported format version %d (want %d)", cp.Version, FormatVersion),
		}
	}
	if err := cp.Scaler.Validate(); err != nil {
		return nil, &domain.CheckpointError{Op: "decode", Err: err}
	}
	return &cp, nil
}

// Restore rebuilds the model stored in cp on the given backend
func (cp *Checkpoint) Restore(backend autoencoder.Backend) (*autoencoder.Model, error) {
	m, err := autoencoder.FromSnapshot(cp.Model, backend)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "restore", Err: err}
	}
	return m, nil
}
