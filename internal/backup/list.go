package backup

import (
	"context"
	"fmt"

	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/model"
)

// ListByType returns live backups of one type across all instances, newest first
func (o *Orchestrator) ListByType(ctx context.Context, t model.BackupType) ([]*model.Backup, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown backup type %q", model.ErrInvalidRequest, t)
	}
	return o.DB.ListBackups(ctx, database.BackupFilter{Type: t})
}

// ListDownloadable returns live backups held in the archive store
func (o *Orchestrator) ListDownloadable(ctx context.Context) ([]*model.Backup, error) {
	return o.DB.ListBackups(ctx, database.BackupFilter{Destination: model.DestinationArchive})
}

// ListByInstance returns the live backups of one instance, newest first
func (o *Orchestrator) ListByInstance(ctx context.Context, instanceID int64) ([]*model.Backup, error) {
	if _, err := o.DB.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return o.DB.ListBackups(ctx, database.BackupFilter{InstanceID: instanceID})
}

func (o *Orchestrator) Get(ctx context.Context, backupID int64) (*model.Backup, error) {
	return o.DB.GetBackup(ctx, backupID)
}

// Percent reports how much of the manual-limited quota an instance uses
func (o *Orchestrator) Percent(ctx context.Context, instanceID int64) (int, error) {
	if _, err := o.DB.GetInstance(ctx, instanceID); err != nil {
		return 0, err
	}
	used, err := o.DB.CountLiveBackups(ctx, instanceID, model.BackupManualLimited)
	if err != nil {
		return 0, err
	}
	if o.Retention.LimitedCap <= 0 {
		return 100, nil
	}
	return min(used*100/o.Retention.LimitedCap, 100), nil
}
