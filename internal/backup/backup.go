// Package backup captures, uploads, expires and restores instance snapshots.
// Every flow holds the instance lock from its first remote command to its
// last repository write.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"golang.org/x/sync/errgroup"

	"github.com/polarfoxDev/wharf/internal/archive"
	"github.com/polarfoxDev/wharf/internal/config"
	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/executor"
	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/wpcli"
	"github.com/polarfoxDev/wharf/internal/wpsite"
)

type Orchestrator struct {
	DB       *database.DB
	Exec     executor.Executor
	Store    archive.Store // nil when no archive store is configured
	Site     *wpsite.Service
	Commands *wpcli.Commands
	Resolver executor.Resolver
	Locks    *kmutex.Kmutex
	Log      *logging.Logger

	StagingDir     string
	Retention      config.RetentionConfig
	DeleteOnRemove bool

	Now func() time.Time
}

// ArchiveResult is returned by CreateArchiveBackup
type ArchiveResult struct {
	Backup     *model.Backup `json:"backup"`
	ArchiveURL string        `json:"archiveUrl"`
	DumpURL    string        `json:"dumpUrl"`
}

// LimitedResult is returned by CreateLimitedBackup. A full quota is not an
// error: Accepted is false and Reason says why.
type LimitedResult struct {
	Accepted bool          `json:"accepted"`
	Reason   string        `json:"reason,omitempty"`
	Used     int           `json:"used"`
	Cap      int           `json:"cap"`
	Backup   *model.Backup `json:"backup,omitempty"`
	JobID    int64         `json:"jobId,omitempty"`
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) lock(id int64) func() {
	o.Locks.Lock(id)
	return func() { o.Locks.Unlock(id) }
}

// keep returns the implicit expiry of a backup type
func (o *Orchestrator) keep(t model.BackupType) time.Duration {
	switch t {
	case model.BackupHourly:
		return o.Retention.HourlyKeep.Duration
	case model.BackupSixHourly:
		return o.Retention.SixHourlyKeep.Duration
	case model.BackupDaily:
		return o.Retention.DailyKeep.Duration
	case model.BackupManualLimited:
		return o.Retention.LimitedKeep.Duration
	}
	return 0
}

// backupName derives the artifact base name from the site title and a fresh token
func backupName(title string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return helpers.SanitizeName(title) + "-" + token
}

// capture snapshots the inventory and writes the dump and the web root
// archive into the container's backup dir. The returned Backup is not
// persisted yet. The caller holds the instance lock.
func (o *Orchestrator) capture(ctx context.Context, inst *model.Instance, t model.BackupType, note string, fl *logging.FlowLogger) (*model.Backup, error) {
	name := backupName(inst.Title)
	plugins, themes, err := o.Site.Snapshot(ctx, inst)
	if err != nil {
		return nil, err
	}
	archivePath, dumpPath := o.Commands.ArtifactPaths(name)
	fl.Info("capturing %s into %s", name, o.Commands.BackupDir)
	if _, err := o.Exec.Execute(ctx, o.Resolver.App(inst), o.Commands.Capture(archivePath, dumpPath)); err != nil {
		// the dump may already be written when zipping fails
		o.removeArtifacts(ctx, inst, fl, archivePath, dumpPath)
		return nil, fmt.Errorf("capture %s: %w", name, err)
	}
	created := o.now()
	return &model.Backup{
		InstanceID:  inst.ID,
		Name:        name,
		Type:        t,
		Destination: model.DestinationPod,
		ArchivePath: archivePath,
		DumpPath:    dumpPath,
		Note:        note,
		Plugins:     plugins,
		Themes:      themes,
		ExpiresAt:   helpers.ExpiresAt(created, o.keep(t)),
		CreatedAt:   created,
	}, nil
}

// removeArtifacts deletes files inside the container and only logs failures
func (o *Orchestrator) removeArtifacts(ctx context.Context, inst *model.Instance, fl *logging.FlowLogger, paths ...string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.Exec.Execute(ctx, o.Resolver.App(inst), o.Commands.Remove(paths...)); err != nil {
		fl.Warn("failed to remove %s: %v", strings.Join(paths, ", "), err)
	}
}

// CreatePodBackup captures a backup that stays inside the application container
func (o *Orchestrator) CreatePodBackup(ctx context.Context, instanceID int64, t model.BackupType, note string) (b *model.Backup, err error) {
	defer metrics.ObserveFlow("backup.pod", time.Now(), &err)

	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown backup type %q", model.ErrInvalidRequest, t)
	}
	if t == model.BackupManualLimited {
		return nil, fmt.Errorf("%w: manual-limited backups go through the limited capture", model.ErrInvalidRequest)
	}
	defer o.lock(instanceID)()

	inst, err := o.DB.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	fl := o.Log.Flow("backup.pod", instanceID)
	if b, err = o.capture(ctx, inst, t, note, fl); err != nil {
		fl.Error("%s backup failed: %v", t, err)
		return nil, err
	}
	if err := o.DB.CreateBackup(ctx, b); err != nil {
		o.removeArtifacts(ctx, inst, fl, b.ArchivePath, b.DumpPath)
		return nil, err
	}
	fl.WithBackup(b.ID).Info("%s backup %s stored in pod", t, b.Name)
	return b, nil
}

// CreateLimitedBackup captures a manual-limited backup unless the instance
// already holds the maximum number of them, and arms its deletion.
func (o *Orchestrator) CreateLimitedBackup(ctx context.Context, instanceID int64, note string) (res *LimitedResult, err error) {
	defer metrics.ObserveFlow("backup.limited", time.Now(), &err)
	defer o.lock(instanceID)()

	inst, err := o.DB.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	fl := o.Log.Flow("backup.limited", instanceID)

	used, err := o.DB.CountLiveBackups(ctx, instanceID, model.BackupManualLimited)
	if err != nil {
		return nil, err
	}
	res = &LimitedResult{Used: used, Cap: o.Retention.LimitedCap}
	if used >= o.Retention.LimitedCap {
		res.Reason = fmt.Sprintf("%v: %d of %d manual-limited backups in use", model.ErrCapacityExceeded, used, o.Retention.LimitedCap)
		fl.Warn("%s", res.Reason)
		return res, nil
	}

	b, err := o.capture(ctx, inst, model.BackupManualLimited, note, fl)
	if err != nil {
		fl.Error("limited backup failed: %v", err)
		return nil, err
	}
	if err := o.DB.CreateBackup(ctx, b); err != nil {
		o.removeArtifacts(ctx, inst, fl, b.ArchivePath, b.DumpPath)
		return nil, err
	}
	job := &model.ScheduledJob{Kind: model.JobDeleteBackup, BackupID: b.ID, InstanceID: instanceID, DueAt: *b.ExpiresAt}
	if err := o.DB.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("arm deletion of backup %d: %w", b.ID, err)
	}
	res.Accepted = true
	res.Used++
	res.Backup = b
	res.JobID = job.ID
	fl.WithBackup(b.ID).Info("limited backup %s stored, deletion due %s", b.Name, job.DueAt.Format(time.RFC3339))
	return res, nil
}

// CreateArchiveBackup captures a backup, uploads both artifacts to the
// archive store and removes the container copies.
func (o *Orchestrator) CreateArchiveBackup(ctx context.Context, instanceID int64, note string) (res *ArchiveResult, err error) {
	defer metrics.ObserveFlow("backup.archive", time.Now(), &err)

	if o.Store == nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, archive.ErrDisabled)
	}
	defer o.lock(instanceID)()

	inst, err := o.DB.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	fl := o.Log.Flow("backup.archive", instanceID)

	b, err := o.capture(ctx, inst, model.BackupManual, note, fl)
	if err != nil {
		fl.Error("archive backup failed: %v", err)
		return nil, err
	}
	defer o.removeArtifacts(ctx, inst, fl, b.ArchivePath, b.DumpPath)

	archiveObj, dumpObj, err := o.upload(ctx, inst, b, fl)
	if err != nil {
		fl.Error("upload of %s failed: %v", b.Name, err)
		return nil, err
	}

	b.Destination = model.DestinationArchive
	b.ArchivePath, b.DumpPath = "", ""
	b.Bucket = archiveObj.Bucket
	b.ArchiveKey, b.ArchiveURL = archiveObj.Key, archiveObj.Location
	b.DumpKey, b.DumpURL = dumpObj.Key, dumpObj.Location
	if err := o.DB.CreateBackup(ctx, b); err != nil {
		for _, key := range []string{archiveObj.Key, dumpObj.Key} {
			if derr := o.Store.Delete(context.WithoutCancel(ctx), key); derr != nil {
				fl.Warn("failed to delete orphaned object %s: %v", key, derr)
			}
		}
		return nil, err
	}
	fl.WithBackup(b.ID).Info("archive backup %s uploaded to %s", b.Name, b.Bucket)
	return &ArchiveResult{Backup: b, ArchiveURL: b.ArchiveURL, DumpURL: b.DumpURL}, nil
}

// upload streams both artifacts into the staging dir, then uploads them concurrently
func (o *Orchestrator) upload(ctx context.Context, inst *model.Instance, b *model.Backup, fl *logging.FlowLogger) (archiveObj, dumpObj archive.Object, err error) {
	if err := os.MkdirAll(o.StagingDir, 0o750); err != nil {
		return archiveObj, dumpObj, fmt.Errorf("create staging dir: %w", err)
	}
	archiveFile, err := o.stage(ctx, inst, b.ArchivePath)
	if err != nil {
		return archiveObj, dumpObj, err
	}
	defer os.Remove(archiveFile)
	dumpFile, err := o.stage(ctx, inst, b.DumpPath)
	if err != nil {
		return archiveObj, dumpObj, err
	}
	defer os.Remove(dumpFile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		archiveObj, err = o.putFile(gctx, archiveFile, filepath.Base(b.ArchivePath))
		return err
	})
	g.Go(func() error {
		var err error
		dumpObj, err = o.putFile(gctx, dumpFile, filepath.Base(b.DumpPath))
		return err
	})
	if err := g.Wait(); err != nil {
		// one side may have made it
		for _, obj := range []archive.Object{archiveObj, dumpObj} {
			if obj.Key == "" {
				continue
			}
			if derr := o.Store.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
				fl.Warn("failed to delete partial upload %s: %v", obj.Key, derr)
			}
		}
		return archive.Object{}, archive.Object{}, err
	}
	return archiveObj, dumpObj, nil
}

// stage copies one file out of the container into the staging dir
func (o *Orchestrator) stage(ctx context.Context, inst *model.Instance, remote string) (string, error) {
	f, err := os.CreateTemp(o.StagingDir, "wharf-*-"+filepath.Base(remote))
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	err = o.Exec.Stream(ctx, o.Resolver.App(inst), o.Commands.Cat(remote), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("copy %s out of %s: %w", remote, inst.AppContainer, err)
	}
	return f.Name(), nil
}

func (o *Orchestrator) putFile(ctx context.Context, path, name string) (archive.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return archive.Object{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return archive.Object{}, err
	}
	obj, err := o.Store.Upload(ctx, f, info.Size(), name)
	if err != nil {
		return archive.Object{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return obj, nil
}

// lockBackup looks a live backup up, takes its instance lock and reads the
// backup again so a flow that waited on the lock sees the latest state.
func (o *Orchestrator) lockBackup(ctx context.Context, backupID int64) (*model.Backup, *model.Instance, func(), error) {
	b, err := o.DB.GetBackup(ctx, backupID)
	if err != nil {
		return nil, nil, nil, err
	}
	unlock := o.lock(b.InstanceID)
	if b, err = o.DB.GetBackup(ctx, backupID); err != nil {
		unlock()
		return nil, nil, nil, err
	}
	inst, err := o.DB.GetInstance(ctx, b.InstanceID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return b, inst, unlock, nil
}

// DeletePodBackup removes a pod backup's artifacts and soft-deletes the
// record. Deleting the same backup again returns model.ErrNotFound without
// touching the container.
func (o *Orchestrator) DeletePodBackup(ctx context.Context, backupID int64) (err error) {
	defer metrics.ObserveFlow("backup.delete", time.Now(), &err)

	b, inst, unlock, err := o.lockBackup(ctx, backupID)
	if err != nil {
		return err
	}
	defer unlock()
	fl := o.Log.Flow("backup.delete", inst.ID).WithBackup(b.ID)

	if !b.HasPodLocators() {
		return fmt.Errorf("%w: backup %d is not stored in the pod", model.ErrInvalidBackup, b.ID)
	}
	if _, err := o.Exec.Execute(ctx, o.Resolver.App(inst), o.Commands.Remove(b.ArchivePath, b.DumpPath)); err != nil {
		return fmt.Errorf("remove artifacts of backup %d: %w", b.ID, err)
	}
	if err := o.DB.SoftDeleteBackup(ctx, b.ID); err != nil {
		return err
	}
	fl.Info("backup %s deleted", b.Name)
	return nil
}

// DeleteBackup deletes a backup of either destination. Archive store
// objects are only removed when DeleteOnRemove is set.
func (o *Orchestrator) DeleteBackup(ctx context.Context, backupID int64) error {
	b, err := o.DB.GetBackup(ctx, backupID)
	if err != nil {
		return err
	}
	if b.Destination == model.DestinationPod {
		return o.DeletePodBackup(ctx, backupID)
	}

	unlock := o.lock(b.InstanceID)
	defer unlock()
	fl := o.Log.Flow("backup.delete", b.InstanceID).WithBackup(b.ID)

	if err := o.DB.SoftDeleteBackup(ctx, b.ID); err != nil {
		return err
	}
	if o.DeleteOnRemove && o.Store != nil {
		var errs []error
		for _, key := range []string{b.ArchiveKey, b.DumpKey} {
			if err := o.Store.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			fl.Warn("backup record deleted but archive objects remain: %v", err)
		}
	}
	fl.Info("archive backup %s deleted", b.Name)
	return nil
}
