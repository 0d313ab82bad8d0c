package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polarfoxDev/wharf/internal/model"
)

const backupColumns = `id, instance_id, name, type, destination,
	archive_path, dump_path, bucket, archive_key, dump_key, archive_url, dump_url,
	note, plugins, themes, expires_at, created_at, deleted_at`

func scanBackup(row rowScanner) (*model.Backup, error) {
	b := &model.Backup{}
	var plugins, themes string
	var expires, deleted sql.NullTime
	err := row.Scan(
		&b.ID, &b.InstanceID, &b.Name, &b.Type, &b.Destination,
		&b.ArchivePath, &b.DumpPath, &b.Bucket, &b.ArchiveKey, &b.DumpKey, &b.ArchiveURL, &b.DumpURL,
		&b.Note, &plugins, &themes, &expires, &b.CreatedAt, &deleted,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(plugins), &b.Plugins); err != nil {
		return nil, fmt.Errorf("decode plugin snapshot of backup %d: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(themes), &b.Themes); err != nil {
		return nil, fmt.Errorf("decode theme snapshot of backup %d: %w", b.ID, err)
	}
	b.ExpiresAt = timePtr(expires)
	b.DeletedAt = timePtr(deleted)
	return b, nil
}

// CreateBackup validates and inserts a backup record. CreatedAt is kept when
// the caller already set it.
func (d *DB) CreateBackup(ctx context.Context, b *model.Backup) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Plugins == nil {
		b.Plugins = []model.InventoryItem{}
	}
	if b.Themes == nil {
		b.Themes = []model.InventoryItem{}
	}
	plugins, err := json.Marshal(b.Plugins)
	if err != nil {
		return fmt.Errorf("encode plugin snapshot: %w", err)
	}
	themes, err := json.Marshal(b.Themes)
	if err != nil {
		return fmt.Errorf("encode theme snapshot: %w", err)
	}

	// a torn-down instance gets no new backups
	query := `
	INSERT INTO backups (
		instance_id, name, type, destination,
		archive_path, dump_path, bucket, archive_key, dump_key, archive_url, dump_url,
		note, plugins, themes, expires_at, created_at
	)
	SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM instances WHERE id = ? AND deleted_at IS NULL)
	`
	res, err := d.db.ExecContext(ctx, query,
		b.InstanceID, b.Name, b.Type, b.Destination,
		b.ArchivePath, b.DumpPath, b.Bucket, b.ArchiveKey, b.DumpKey, b.ArchiveURL, b.DumpURL,
		b.Note, string(plugins), string(themes), nullTime(b.ExpiresAt), b.CreatedAt,
		b.InstanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if err := expectOne(res, "instance", b.InstanceID); err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

// GetBackup returns the live backup with the given id or model.ErrNotFound
func (d *DB) GetBackup(ctx context.Context, id int64) (*model.Backup, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = ? AND deleted_at IS NULL`, id)
	b, err := scanBackup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("backup %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan backup: %w", err)
	}
	return b, nil
}

// BackupFilter narrows ListBackups; zero fields match everything
type BackupFilter struct {
	InstanceID  int64
	Type        model.BackupType
	Destination model.Destination
	Limit       int
}

// ListBackups returns live backups matching the filter, newest first
func (d *DB) ListBackups(ctx context.Context, f BackupFilter) ([]*model.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE deleted_at IS NULL`
	args := []any{}
	if f.InstanceID != 0 {
		query += " AND instance_id = ?"
		args = append(args, f.InstanceID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Destination != "" {
		query += " AND destination = ?"
		args = append(args, f.Destination)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Backup, 0)
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountLiveBackups counts live backups of one type for an instance
func (d *DB) CountLiveBackups(ctx context.Context, instanceID int64, t model.BackupType) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backups WHERE instance_id = ? AND type = ? AND deleted_at IS NULL`,
		instanceID, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return n, nil
}

// SoftDeleteBackup marks one live backup deleted; a second call returns model.ErrNotFound
func (d *DB) SoftDeleteBackup(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE backups SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return expectOne(res, "backup", id)
}

// SoftDeleteInstanceBackups marks every live backup of an instance deleted
func (d *DB) SoftDeleteInstanceBackups(ctx context.Context, instanceID int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE backups SET deleted_at = ? WHERE instance_id = ? AND deleted_at IS NULL`, time.Now().UTC(), instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete instance backups: %w", err)
	}
	return res.RowsAffected()
}
