package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pricewatch/internal/database"
	"github.com/aristath/pricewatch/internal/objectstore"
	testingutil "github.com/aristath/pricewatch/internal/testing"
)

func newTestClient() *objectstore.Client {
	return objectstore.NewClientWithAPI(objectstore.NewMemoryAPI(), "backups",
		objectstore.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second},
		zerolog.Nop())
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = body
	}
	return files
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	historyDB, cleanupHistory := testingutil.NewTestDB(t, "history")
	defer cleanupHistory()
	runsDB, cleanupRuns := testingutil.NewTestDB(t, "runs")
	defer cleanupRuns()

	_, err := historyDB.Conn().Exec("INSERT INTO daily_prices (series_id, date, close) VALUES ('BTC', 1, 42000.5)")
	require.NoError(t, err)

	client := newTestClient()
	svc := NewBackupService(client, []*database.DB{historyDB, runsDB}, t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	key, err := svc.CreateAndUploadBackup(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `^pricewatch-backup-\d{4}-\d{2}-\d{2}-\d{6}\.tar\.gz$`, key)

	data, err := client.Download(ctx, key)
	require.NoError(t, err)
	files := readArchive(t, data)
	require.Contains(t, files, "backup-metadata.json")
	require.Contains(t, files, "history.db")
	require.Contains(t, files, "runs.db")

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &meta))
	require.Len(t, meta.Databases, 2)
	for _, db := range meta.Databases {
		sum := sha256.Sum256(files[db.Filename])
		assert.Equal(t, fmt.Sprintf("sha256:%x", sum), db.Checksum, db.Name)
		assert.Equal(t, int64(len(files[db.Filename])), db.SizeBytes)
	}

	// The snapshot is a working database holding the inserted row
	restored := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, os.WriteFile(restored, files["history.db"], 0644))
	conn, err := sql.Open(database.DriverModernc, restored)
	require.NoError(t, err)
	defer conn.Close()
	var closePrice float64
	require.NoError(t, conn.QueryRow("SELECT close FROM daily_prices WHERE series_id = 'BTC'").Scan(&closePrice))
	assert.Equal(t, 42000.5, closePrice)

	backups, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, key, backups[0].Key)
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	client := newTestClient()
	svc := NewBackupService(client, nil, t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	for _, days := range []int{1, 2, 40, 50, 60} {
		key := backupPrefix + now.AddDate(0, 0, -days).Format(backupTimestampLayout) + backupSuffix
		require.NoError(t, client.Upload(ctx, key, []byte("x")))
	}
	require.NoError(t, client.Upload(ctx, "pricewatch-backup-garbage.tar.gz", []byte("x")))

	deleted, err := svc.RotateOldBackups(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	backups, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	assert.GreaterOrEqual(t, backups[2].AgeHours, int64(40*24-1))
}

func TestBackupService_RotateKeepsEverythingWithZeroRetention(t *testing.T) {
	client := newTestClient()
	svc := NewBackupService(client, nil, t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	for _, days := range []int{10, 20, 30, 40, 50} {
		key := backupPrefix + time.Now().UTC().AddDate(0, 0, -days).Format(backupTimestampLayout) + backupSuffix
		require.NoError(t, client.Upload(ctx, key, []byte("x")))
	}

	deleted, err := svc.RotateOldBackups(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestBackupJob(t *testing.T) {
	runsDB, cleanup := testingutil.NewTestDB(t, "runs")
	defer cleanup()

	client := newTestClient()
	job := NewBackupJob(context.Background(), NewBackupService(client, []*database.DB{runsDB}, t.TempDir(), zerolog.Nop()), 30)

	assert.Equal(t, "database_backup", job.Name())
	require.NoError(t, job.Run())

	objects, err := client.List(context.Background(), backupPrefix)
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}
