package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}
}

func TestClient_UploadDownloadList(t *testing.T) {
	api := NewMemoryAPI()
	c := NewClientWithAPI(api, "models", fastRetry(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, "ckpt/a.ckpt", []byte("alpha")))
	require.NoError(t, c.Upload(ctx, "ckpt/b.ckpt", []byte("beta!")))
	require.NoError(t, c.Upload(ctx, "other/c", []byte("c")))

	data, err := c.Download(ctx, "ckpt/a.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	objects, err := c.List(ctx, "ckpt/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "ckpt/a.ckpt", objects[0].Key)
	assert.Equal(t, int64(5), objects[1].Size)
	assert.False(t, objects[1].LastModified.IsZero())

	require.NoError(t, c.Delete(ctx, "ckpt/a.ckpt"))
	_, err = c.Download(ctx, "ckpt/a.ckpt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "models", c.Bucket())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	api := NewMemoryAPI()
	c := NewClientWithAPI(api, "models", fastRetry(), zerolog.Nop())
	ctx := context.Background()

	api.FailNext = 2
	require.NoError(t, c.Upload(ctx, "k", []byte("v")))

	api.FailNext = 2
	data, err := c.Download(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))

	api.FailNext = 10
	_, err = c.Download(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	api := NewMemoryAPI()
	c := NewClientWithAPI(api, "models", RetryPolicy{MaxRetries: 3, InitialInterval: time.Hour, MaxElapsedTime: time.Hour}, zerolog.Nop())

	start := time.Now()
	_, err := c.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, zerolog.Nop())
	assert.Error(t, err)
}
