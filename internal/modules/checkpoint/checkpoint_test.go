package checkpoint

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/modules/autoencoder"
	"github.com/aristath/pricewatch/internal/modules/scaling"
	"github.com/aristath/pricewatch/internal/objectstore"
	testingutil "github.com/aristath/pricewatch/internal/testing"
)

func sampleCheckpoint(t *testing.T) (*Checkpoint, *autoencoder.Model) {
	t.Helper()
	m, err := autoencoder.New(autoencoder.Config{
		TimeSteps:    4,
		Features:     1,
		HiddenUnits:  3,
		DropoutRate:  0.2,
		LearningRate: 0.001,
		Seed:         5,
	}, nil)
	require.NoError(t, err)

	return &Checkpoint{
		SeriesID:  "brent",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Model:     m.Snapshot(),
		Scaler:    scaling.State{Mean: 50, Std: 4, Count: 100},
		BestEpoch: 7,
		ValLoss:   0.125,
	}, m
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	db, cleanup := testingutil.NewTestDB(t, "checkpoints")
	t.Cleanup(cleanup)

	client := objectstore.NewClientWithAPI(objectstore.NewMemoryAPI(), "models",
		objectstore.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second},
		zerolog.Nop())

	return map[string]Store{
		KindFile:   fileStore,
		KindSQLite: NewSQLiteStore(db.Conn(), zerolog.Nop()),
		KindS3:     NewS3Store(client, "pricewatch/checkpoints", zerolog.Nop()),
	}
}

func TestStores_RoundTrip(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			cp, model := sampleCheckpoint(t)

			require.NoError(t, store.Save(ctx, "brent-best", cp))
			got, err := store.Load(ctx, "brent-best")
			require.NoError(t, err)

			assert.Equal(t, FormatVersion, got.Version)
			assert.Equal(t, "brent", got.SeriesID)
			assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, cp.Scaler, got.Scaler)
			assert.Equal(t, 7, got.BestEpoch)
			assert.Equal(t, cp.Model, got.Model)

			restored, err := got.Restore(nil)
			require.NoError(t, err)

			x, err := autoencoder.FromWindows([][]float64{{0.1, 0.2, -0.3, 0.4}})
			require.NoError(t, err)
			want, err := model.Reconstruct(x)
			require.NoError(t, err)
			have, err := restored.Reconstruct(x)
			require.NoError(t, err)
			assert.Equal(t, want.Data, have.Data)
		})
	}
}

func TestStores_OverwriteAndList(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			cp, _ := sampleCheckpoint(t)

			require.NoError(t, store.Save(ctx, "b", cp))
			require.NoError(t, store.Save(ctx, "a", cp))
			cp.BestEpoch = 9
			require.NoError(t, store.Save(ctx, "a", cp))

			got, err := store.Load(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 9, got.BestEpoch)

			infos, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "a", infos[0].Key)
			assert.Equal(t, "b", infos[1].Key)
			assert.Greater(t, infos[0].Size, int64(0))
		})
	}
}

func TestStores_MissingKey(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			_, err := store.Load(context.Background(), "nope")

			var cpErr *domain.CheckpointError
			require.True(t, errors.As(err, &cpErr))
			assert.Equal(t, "load", cpErr.Op)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStores_RejectInvalidKeys(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			cp, _ := sampleCheckpoint(t)
			for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
				err := store.Save(context.Background(), key, cp)
				var cpErr *domain.CheckpointError
				assert.True(t, errors.As(err, &cpErr), "key %q", key)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte("not msgpack"))
	var cpErr *domain.CheckpointError
	assert.True(t, errors.As(err, &cpErr))

	cp, _ := sampleCheckpoint(t)
	cp.Version = FormatVersion + 1
	data, err := msgpack.Marshal(cp)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorContains(t, err, "unsupported format version")

	cp.Version = FormatVersion
	cp.Scaler = scaling.State{Mean: math.NaN(), Std: 1}
	data, err = msgpack.Marshal(cp)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}

func TestRestore_ShapeMismatch(t *testing.T) {
	cp, _ := sampleCheckpoint(t)
	cp.Model.Params = cp.Model.Params[:3]

	_, err := cp.Restore(nil)
	var shapeErr *domain.ShapeError
	assert.True(t, errors.As(err, &shapeErr))
}
