package reliability

import (
	"context"
	"fmt"
)

// BackupJob uploads a fresh backup and rotates old ones
type BackupJob struct {
	ctx           context.Context
	service       *BackupService
	retentionDays int
}

// NewBackupJob creates a backup job bound to ctx
func NewBackupJob(ctx context.Context, service *BackupService, retentionDays int) *BackupJob {
	return &BackupJob{
		ctx:           ctx,
		service:       service,
		retentionDays: retentionDays,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	if _, err := j.service.CreateAndUploadBackup(j.ctx); err != nil {
		return err
	}
	// Rotation failures don't invalidate the backup that just succeeded
	if _, err := j.service.RotateOldBackups(j.ctx, j.retentionDays); err != nil {
		return fmt.Errorf("backup uploaded but rotation failed: %w", err)
	}
	return nil
}
