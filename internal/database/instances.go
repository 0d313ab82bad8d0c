package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/polarfoxDev/wharf/internal/model"
)

// ErrPortTaken is returned when the live-port unique index rejects an insert
var ErrPortTaken = errors.New("port already held by a live instance")

const instanceColumns = `id, token, namespace, app_container, db_container, port, site_url, title,
	admin_user, admin_email, admin_password_hash, wp_version, php_version,
	created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*model.Instance, error) {
	inst := &model.Instance{}
	var deleted sql.NullTime
	err := row.Scan(
		&inst.ID, &inst.Token, &inst.Namespace, &inst.AppContainer, &inst.DBContainer,
		&inst.Port, &inst.SiteURL, &inst.Title,
		&inst.AdminUser, &inst.AdminEmail, &inst.AdminPasswordHash,
		&inst.WPVersion, &inst.PHPVersion,
		&inst.CreatedAt, &inst.UpdatedAt, &deleted,
	)
	if err != nil {
		return nil, err
	}
	inst.DeletedAt = timePtr(deleted)
	return inst, nil
}

// CreateInstance inserts a new live instance and fills in its id and timestamps
func (d *DB) CreateInstance(ctx context.Context, inst *model.Instance) error {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	query := `
	INSERT INTO instances (
		token, namespace, app_container, db_container, port, site_url, title,
		admin_user, admin_email, admin_password_hash, wp_version, php_version,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := d.db.ExecContext(ctx, query,
		inst.Token, inst.Namespace, inst.AppContainer, inst.DBContainer, inst.Port, inst.SiteURL, inst.Title,
		inst.AdminUser, inst.AdminEmail, inst.AdminPasswordHash, inst.WPVersion, inst.PHPVersion,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "instances.port") {
			return fmt.Errorf("create instance on port %d: %w", inst.Port, ErrPortTaken)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	inst.ID = id
	return nil
}

// GetInstance returns the live instance with the given id or model.ErrNotFound
func (d *DB) GetInstance(ctx context.Context, id int64) (*model.Instance, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ? AND deleted_at IS NULL`, id)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instance %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	return inst, nil
}

// ListInstances returns all live instances, oldest first
func (d *DB) ListInstances(ctx context.Context) ([]*model.Instance, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE deleted_at IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	out := make([]*model.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UsedPorts returns the ports held by live instances
func (d *DB) UsedPorts(ctx context.Context) (map[int]bool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT port FROM instances WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query used ports: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan port: %w", err)
		}
		used[p] = true
	}
	return used, rows.Err()
}

// UpdateInstanceVersions stores the runtime version strings reported by the site
func (d *DB) UpdateInstanceVersions(ctx context.Context, id int64, wpVersion, phpVersion string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE instances SET wp_version = ?, php_version = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		wpVersion, phpVersion, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update instance versions: %w", err)
	}
	return expectOne(res, "instance", id)
}

// SoftDeleteInstance marks the instance deleted; its port becomes free
func (d *DB) SoftDeleteInstance(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := d.db.ExecContext(ctx,
		`UPDATE instances SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return expectOne(res, "instance", id)
}

func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
	}
	return nil
}

// sqlite reports "UNIQUE constraint failed: instances.port"
func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
