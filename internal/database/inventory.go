package database

import (
	"context"
	"fmt"
	"time"

	"github.com/polarfoxDev/wharf/internal/model"
)

// UpsertPlugins mirrors a plugin listing, keyed by (name, instance)
func (d *DB) UpsertPlugins(ctx context.Context, instanceID int64, items []model.InventoryItem) error {
	return d.upsertItems(ctx, "plugins", instanceID, items)
}

// UpsertThemes mirrors a theme listing, keyed by (name, instance)
func (d *DB) UpsertThemes(ctx context.Context, instanceID int64, items []model.InventoryItem) error {
	return d.upsertItems(ctx, "themes", instanceID, items)
}

func (d *DB) upsertItems(ctx context.Context, table string, instanceID int64, items []model.InventoryItem) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// table is one of two constants above
	query := `
	INSERT INTO ` + table + ` (instance_id, name, status, version, update_state, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(name, instance_id) DO UPDATE SET
		status = excluded.status,
		version = excluded.version,
		update_state = excluded.update_state,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, query, instanceID, it.Name, it.Status, it.Version, it.Update, now); err != nil {
			return fmt.Errorf("failed to upsert %s %q: %w", table, it.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListPlugins returns the mirrored plugins of an instance ordered by name
func (d *DB) ListPlugins(ctx context.Context, instanceID int64) ([]*model.Plugin, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, instance_id, name, status, version, update_state, updated_at FROM plugins WHERE instance_id = ? ORDER BY name`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugins: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Plugin, 0)
	for rows.Next() {
		p := &model.Plugin{}
		if err := rows.Scan(&p.ID, &p.InstanceID, &p.Name, &p.Status, &p.Version, &p.Update, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plugin: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListThemes returns the mirrored themes of an instance ordered by name
func (d *DB) ListThemes(ctx context.Context, instanceID int64) ([]*model.Theme, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, instance_id, name, status, version, update_state, updated_at FROM themes WHERE instance_id = ? ORDER BY name`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query themes: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Theme, 0)
	for rows.Next() {
		th := &model.Theme{}
		if err := rows.Scan(&th.ID, &th.InstanceID, &th.Name, &th.Status, &th.Version, &th.Update, &th.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan theme: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// UpsertSiteUsers mirrors a user listing, keyed by (email, instance)
func (d *DB) UpsertSiteUsers(ctx context.Context, instanceID int64, users []model.SiteUser) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO site_users (instance_id, login, email, display_name, roles, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(email, instance_id) DO UPDATE SET
		login = excluded.login,
		display_name = excluded.display_name,
		roles = excluded.roles,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for _, u := range users {
		if _, err := tx.ExecContext(ctx, query, instanceID, u.Login, u.Email, u.DisplayName, u.Roles, now); err != nil {
			return fmt.Errorf("failed to upsert site user %q: %w", u.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSiteUsers returns the mirrored users of an instance ordered by login
func (d *DB) ListSiteUsers(ctx context.Context, instanceID int64) ([]*model.SiteUser, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, instance_id, login, email, display_name, roles, updated_at FROM site_users WHERE instance_id = ? ORDER BY login`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query site users: %w", err)
	}
	defer rows.Close()

	out := make([]*model.SiteUser, 0)
	for rows.Next() {
		u := &model.SiteUser{}
		if err := rows.Scan(&u.ID, &u.InstanceID, &u.Login, &u.Email, &u.DisplayName, &u.Roles, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan site user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
