package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/wharf/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "wharf.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newInstance(t *testing.T, db *DB, port int) *model.Instance {
	t.Helper()
	inst := &model.Instance{
		Token:             "tok" + time.Now().Format("150405.000000000"),
		Namespace:         "wharf-test",
		AppContainer:      "wharf-test-wordpress-1",
		DBContainer:       "wharf-test-db-1",
		Port:              port,
		SiteURL:           "http://localhost",
		Title:             "Demo",
		AdminUser:         "admin",
		AdminEmail:        "admin@example.com",
		AdminPasswordHash: "hash",
	}
	require.NoError(t, db.CreateInstance(context.Background(), inst))
	return inst
}

func podBackup(instanceID int64, typ model.BackupType) *model.Backup {
	return &model.Backup{
		InstanceID:  instanceID,
		Name:        "demo-abc",
		Type:        typ,
		Destination: model.DestinationPod,
		ArchivePath: "/var/backups/wharf/demo-abc.zip",
		DumpPath:    "/var/backups/wharf/demo-abc.sql",
	}
}

func TestInitDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wharf.db")
	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// migrations already applied; second open must not fail
	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestInstances_LivePortUniqueness(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := newInstance(t, db, 4000)

	dup := &model.Instance{Token: "other", Namespace: "n", AppContainer: "a", DBContainer: "d", Port: 4000,
		SiteURL: "u", Title: "t", AdminUser: "admin", AdminEmail: "e", AdminPasswordHash: "h"}
	err := db.CreateInstance(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortTaken), "got %v", err)

	// once the first instance is soft-deleted its port is free again
	require.NoError(t, db.SoftDeleteInstance(ctx, first.ID))
	require.NoError(t, db.CreateInstance(ctx, dup))

	used, err := db.UsedPorts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{4000: true}, used)
}

func TestInstances_GetAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := newInstance(t, db, 4001)

	got, err := db.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Title)
	assert.True(t, got.Live())

	require.NoError(t, db.UpdateInstanceVersions(ctx, inst.ID, "6.5.2", "8.2.18"))
	got, err = db.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "6.5.2", got.WPVersion)
	assert.Equal(t, "8.2.18", got.PHPVersion)

	require.NoError(t, db.SoftDeleteInstance(ctx, inst.ID))
	_, err = db.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, db.SoftDeleteInstance(ctx, inst.ID), model.ErrNotFound)

	list, err := db.ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBackups_CreateListCount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := newInstance(t, db, 4002)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		b := podBackup(inst.ID, model.BackupManualLimited)
		b.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		b.Plugins = []model.InventoryItem{{Name: "akismet", Status: "active", Version: "5.3"}}
		require.NoError(t, db.CreateBackup(ctx, b))
	}
	archived := &model.Backup{
		InstanceID: inst.ID, Name: "demo-xyz", Type: model.BackupManual, Destination: model.DestinationArchive,
		Bucket: "b", ArchiveKey: "k1", DumpKey: "k2", ArchiveURL: "https://s3/k1", DumpURL: "https://s3/k2",
	}
	require.NoError(t, db.CreateBackup(ctx, archived))

	n, err := db.CountLiveBackups(ctx, inst.ID, model.BackupManualLimited)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := db.ListBackups(ctx, BackupFilter{InstanceID: inst.ID})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, archived.ID, all[0].ID, "newest first")

	limited, err := db.ListBackups(ctx, BackupFilter{Type: model.BackupManualLimited})
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, "akismet", limited[0].Plugins[0].Name)
	assert.True(t, limited[0].CreatedAt.After(limited[1].CreatedAt))

	dl, err := db.ListBackups(ctx, BackupFilter{Destination: model.DestinationArchive})
	require.NoError(t, err)
	require.Len(t, dl, 1)
	assert.Equal(t, "https://s3/k1", dl[0].ArchiveURL)
}

func TestBackups_RejectsMismatchedLocators(t *testing.T) {
	db := newTestDB(t)
	inst := newInstance(t, db, 4003)

	b := podBackup(inst.ID, model.BackupManual)
	b.ArchiveKey = "should-not-be-here"
	err := db.CreateBackup(context.Background(), b)
	assert.ErrorIs(t, err, model.ErrInvalidBackup)
}

func TestBackups_SoftDeleteTwice(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := newInstance(t, db, 4004)

	b := podBackup(inst.ID, model.BackupHourly)
	require.NoError(t, db.CreateBackup(ctx, b))

	require.NoError(t, db.SoftDeleteBackup(ctx, b.ID))
	assert.ErrorIs(t, db.SoftDeleteBackup(ctx, b.ID), model.ErrNotFound)
	_, err := db.GetBackup(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBackups_RefusedForDeletedInstance(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := newInstance(t, db, 4005)
	require.NoError(t, db.SoftDeleteInstance(ctx, inst.ID))

	b := podBackup(inst.ID, model.BackupManual)
	assert.ErrorIs(t, db.CreateBackup(ctx, b), model.ErrNotFound)
	assert.Zero(t, b.ID)

	n, err := db.CountLiveBackups(ctx, inst.ID, model.BackupManual)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, db.CreateBackup(ctx, podBackup(9999, model.BackupManual)), model.ErrNotFound)
}

func TestInventory_Upsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := newInstance(t, db, 4005)

	require.NoError(t, db.UpsertPlugins(ctx, inst.ID, []model.InventoryItem{
		{Name: "akismet", Status: "inactive", Version: "5.2"},
		{Name: "hello", Status: "inactive", Version: "1.7"},
	}))
	require.NoError(t, db.UpsertPlugins(ctx, inst.ID, []model.InventoryItem{
		{Name: "akismet", Status: "active", Version: "5.3", Update: "none"},
	}))

	plugins, err := db.ListPlugins(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "akismet", plugins[0].Name)
	assert.Equal(t, "active", plugins[0].Status)
	assert.Equal(t, "5.3", plugins[0].Version)

	require.NoError(t, db.UpsertThemes(ctx, inst.ID, []model.InventoryItem{{Name: "twentytwentyfour", Status: "active"}}))
	themes, err := db.ListThemes(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, themes, 1)

	require.NoError(t, db.UpsertSiteUsers(ctx, inst.ID, []model.SiteUser{{Login: "admin", Email: "a@x.io", Roles: "administrator"}}))
	require.NoError(t, db.UpsertSiteUsers(ctx, inst.ID, []model.SiteUser{{Login: "root", Email: "a@x.io", Roles: "editor"}}))
	users, err := db.ListSiteUsers(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "root", users[0].Login)
	assert.Equal(t, "editor", users[0].Roles)
}

func TestJobs_DueAndAttempts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Now().UTC()

	past := &model.ScheduledJob{Kind: model.JobDeleteBackup, BackupID: 1, InstanceID: 1, DueAt: now.Add(-time.Minute)}
	future := &model.ScheduledJob{Kind: model.JobDeleteBackup, BackupID: 2, InstanceID: 1, DueAt: now.Add(time.Hour)}
	require.NoError(t, db.CreateJob(ctx, past))
	require.NoError(t, db.CreateJob(ctx, future))

	due, err := db.DueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)

	state, err := db.FailJobAttempt(ctx, past.ID, errors.New("boom"), 2)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, state)
	state, err = db.FailJobAttempt(ctx, past.ID, errors.New("boom again"), 2)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, state)

	j, err := db.GetJob(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, "boom again", j.LastError)

	due, err = db.DueJobs(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, future.ID, due[0].ID)

	n, err := db.CancelInstanceJobs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	due, err = db.DueJobs(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRecurrences(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.AddRecurrence(ctx, &model.Recurrence{InstanceID: 7, Type: model.BackupHourly}))
	require.NoError(t, db.AddRecurrence(ctx, &model.Recurrence{InstanceID: 7, Type: model.BackupHourly}))
	require.NoError(t, db.AddRecurrence(ctx, &model.Recurrence{InstanceID: 7, Type: model.BackupSixHourly}))

	list, err := db.ListRecurrences(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := db.RemoveRecurrences(ctx, 7, model.BackupHourly)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.RemoveRecurrences(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
