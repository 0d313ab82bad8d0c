// Package wpsite reads and changes the state of a running WordPress site:
// plugin, theme and user inventory, versions, maintenance mode and URLs.
package wpsite

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/executor"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/wpcli"
)

type Service struct {
	DB       *database.DB
	Exec     executor.Executor
	Commands *wpcli.Commands
	Resolver executor.Resolver
	Locks    *kmutex.Kmutex // shared with the backup orchestrator
	Log      *logging.Logger
}

// Inventory is the mirrored state of one instance after a sync
type Inventory struct {
	Instance *model.Instance   `json:"instance"`
	Plugins  []*model.Plugin   `json:"plugins"`
	Themes   []*model.Theme    `json:"themes"`
	Users    []*model.SiteUser `json:"users"`
	SyncedAt time.Time         `json:"syncedAt"`
}

func (s *Service) lock(id int64) func() {
	s.Locks.Lock(id)
	return func() { s.Locks.Unlock(id) }
}

// Snapshot lists plugins and themes and mirrors them into the inventory
// tables. The caller holds the instance lock.
func (s *Service) Snapshot(ctx context.Context, inst *model.Instance) (plugins, themes []model.InventoryItem, err error) {
	target := s.Resolver.App(inst)

	out, err := s.Exec.Execute(ctx, target, s.Commands.PluginList())
	if err != nil {
		return nil, nil, fmt.Errorf("list plugins: %w", err)
	}
	if plugins, err = wpcli.ParseInventory(out); err != nil {
		return nil, nil, fmt.Errorf("list plugins: %w", err)
	}
	out, err = s.Exec.Execute(ctx, target, s.Commands.ThemeList())
	if err != nil {
		return nil, nil, fmt.Errorf("list themes: %w", err)
	}
	if themes, err = wpcli.ParseInventory(out); err != nil {
		return nil, nil, fmt.Errorf("list themes: %w", err)
	}

	if err := s.DB.UpsertPlugins(ctx, inst.ID, plugins); err != nil {
		return nil, nil, err
	}
	if err := s.DB.UpsertThemes(ctx, inst.ID, themes); err != nil {
		return nil, nil, err
	}
	return plugins, themes, nil
}

// Sync refreshes the whole mirror of an instance: plugins, themes, users
// and the WordPress and PHP versions.
func (s *Service) Sync(ctx context.Context, id int64) (inv *Inventory, err error) {
	defer metrics.ObserveFlow("sync", time.Now(), &err)
	defer s.lock(id)()

	inst, err := s.DB.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	fl := s.Log.Flow("sync", id)
	target := s.Resolver.App(inst)

	if _, _, err := s.Snapshot(ctx, inst); err != nil {
		fl.Error("inventory snapshot failed: %v", err)
		return nil, err
	}

	out, err := s.Exec.Execute(ctx, target, s.Commands.UserList())
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users, err := wpcli.ParseUsers(out)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if err := s.DB.UpsertSiteUsers(ctx, id, users); err != nil {
		return nil, err
	}

	wp, err := s.Exec.Execute(ctx, target, s.Commands.CoreVersion())
	if err != nil {
		return nil, fmt.Errorf("query wordpress version: %w", err)
	}
	php, err := s.Exec.Execute(ctx, target, s.Commands.PHPVersion())
	if err != nil {
		return nil, fmt.Errorf("query php version: %w", err)
	}
	inst.WPVersion, inst.PHPVersion = wpcli.ParseVersion(wp), wpcli.ParseVersion(php)
	if err := s.DB.UpdateInstanceVersions(ctx, id, inst.WPVersion, inst.PHPVersion); err != nil {
		return nil, err
	}

	inv = &Inventory{Instance: inst, SyncedAt: time.Now().UTC()}
	if inv.Plugins, err = s.DB.ListPlugins(ctx, id); err != nil {
		return nil, err
	}
	if inv.Themes, err = s.DB.ListThemes(ctx, id); err != nil {
		return nil, err
	}
	if inv.Users, err = s.DB.ListSiteUsers(ctx, id); err != nil {
		return nil, err
	}
	fl.Info("synced %d plugin(s), %d theme(s), %d user(s); wordpress %s, php %s",
		len(inv.Plugins), len(inv.Themes), len(inv.Users), inst.WPVersion, inst.PHPVersion)
	return inv, nil
}

// Maintenance switches the maintenance page on or off
func (s *Service) Maintenance(ctx context.Context, id int64, on bool) error {
	defer s.lock(id)()

	inst, err := s.DB.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.Exec.Execute(ctx, s.Resolver.App(inst), s.Commands.MaintenanceMode(on)); err != nil {
		return fmt.Errorf("maintenance mode: %w", err)
	}
	s.Log.Flow("site", id).Info("maintenance mode on=%t", on)
	return nil
}

// SearchReplace rewrites from to to across every table and returns the
// number of replacements (or candidates on a dry run).
func (s *Service) SearchReplace(ctx context.Context, id int64, from, to string, dryRun bool) (int, error) {
	script, err := s.Commands.SearchReplace(from, to, dryRun)
	if err != nil {
		return 0, err
	}
	defer s.lock(id)()

	inst, err := s.DB.GetInstance(ctx, id)
	if err != nil {
		return 0, err
	}
	out, err := s.Exec.Execute(ctx, s.Resolver.App(inst), script)
	if err != nil {
		return 0, fmt.Errorf("search-replace: %w", err)
	}
	n, err := strconv.Atoi(wpcli.ParseVersion(out))
	if err != nil {
		return 0, fmt.Errorf("search-replace: unexpected output %q", out)
	}
	s.Log.Flow("site", id).Info("search-replace %q -> %q: %d (dry run: %t)", from, to, n, dryRun)
	return n, nil
}

// Plugin runs a plugin action and refreshes the plugin mirror
func (s *Service) Plugin(ctx context.Context, id int64, action, name string) ([]*model.Plugin, error) {
	script, err := s.Commands.PluginAction(action, name)
	if err != nil {
		return nil, err
	}
	defer s.lock(id)()

	inst, err := s.DB.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	target := s.Resolver.App(inst)
	if _, err := s.Exec.Execute(ctx, target, script); err != nil {
		return nil, fmt.Errorf("plugin %s %s: %w", action, name, err)
	}
	out, err := s.Exec.Execute(ctx, target, s.Commands.PluginList())
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	items, err := wpcli.ParseInventory(out)
	if err != nil {
		return nil, err
	}
	if err := s.DB.UpsertPlugins(ctx, id, items); err != nil {
		return nil, err
	}
	s.Log.Flow("site", id).Info("plugin %s %s", action, name)
	return s.DB.ListPlugins(ctx, id)
}
