package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/wpcli"
)

// RestoreArchiveBackup downloads an archive backup into the instance,
// verifies it, replaces the web root and the database, and soft-deletes the
// backup record. The objects in the archive store are kept.
func (o *Orchestrator) RestoreArchiveBackup(ctx context.Context, backupID int64) (msg string, err error) {
	defer metrics.ObserveFlow("restore.archive", time.Now(), &err)

	b, inst, unlock, err := o.lockBackup(ctx, backupID)
	if err != nil {
		return "", err
	}
	defer unlock()
	fl := o.Log.Flow("restore.archive", inst.ID).WithBackup(b.ID)

	if b.Destination != model.DestinationArchive || !b.HasArchiveLocators() {
		return "", fmt.Errorf("%w: backup %d has no archive and dump locators", model.ErrInvalidBackup, b.ID)
	}
	if o.Store == nil {
		return "", fmt.Errorf("%w: archive store is not configured", model.ErrInvalidRequest)
	}

	// stored URLs may have expired; presign again
	archiveURL, err := o.Store.URL(ctx, b.ArchiveKey)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", b.ArchiveKey, err)
	}
	dumpURL, err := o.Store.URL(ctx, b.DumpKey)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", b.DumpKey, err)
	}

	target := o.Resolver.App(inst)
	archivePath, dumpPath := o.Commands.ArtifactPaths(b.Name)
	extractDir := o.Commands.ExtractDir(b.Name)
	defer o.removeArtifacts(ctx, inst, fl, archivePath, dumpPath, extractDir)

	fl.Info("downloading %s", b.Name)
	if _, err := o.Exec.Execute(ctx, target, wpcli.Join(
		o.Commands.InstallTools(),
		o.Commands.Download(archiveURL, archivePath),
		o.Commands.Download(dumpURL, dumpPath),
	)); err != nil {
		fl.Error("download failed: %v", err)
		return "", fmt.Errorf("%w: download backup %d: %w", model.ErrCorruptArchive, b.ID, err)
	}
	if _, err := o.Exec.Execute(ctx, target, o.Commands.TestArchive(archivePath)); err != nil {
		fl.Error("integrity check failed: %v", err)
		return "", fmt.Errorf("%w: backup %d: %w", model.ErrCorruptArchive, b.ID, err)
	}

	// files and database are replaced together even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	if _, err := o.Exec.Execute(ctx, target, wpcli.Join(
		o.Commands.Extract(archivePath, extractDir),
		o.Commands.ReplaceWebRoot(extractDir),
		o.Commands.Chown(o.Commands.WebRoot),
	)); err != nil {
		fl.Error("replacing web root failed: %v", err)
		return "", fmt.Errorf("restore files of backup %d: %w", b.ID, err)
	}
	if _, err := o.Exec.Execute(ctx, target, o.Commands.DBImport(dumpPath)); err != nil {
		fl.Error("database import failed: %v", err)
		return "", fmt.Errorf("import database of backup %d: %w", b.ID, err)
	}

	if err := o.DB.SoftDeleteBackup(ctx, b.ID); err != nil {
		return "", err
	}
	fl.Info("backup %s restored", b.Name)
	return fmt.Sprintf("backup %d (%s) restored into instance %d", b.ID, b.Name, inst.ID), nil
}

// RestorePodBackup restores a backup that lives in the application
// container. The backup record and its artifacts stay in place.
func (o *Orchestrator) RestorePodBackup(ctx context.Context, backupID int64) (msg string, err error) {
	defer metrics.ObserveFlow("restore.pod", time.Now(), &err)

	b, inst, unlock, err := o.lockBackup(ctx, backupID)
	if err != nil {
		return "", err
	}
	defer unlock()
	fl := o.Log.Flow("restore.pod", inst.ID).WithBackup(b.ID)

	if !b.HasPodLocators() {
		return "", fmt.Errorf("%w: backup %d has no pod-local artifacts", model.ErrInvalidBackup, b.ID)
	}

	target := o.Resolver.App(inst)
	if _, err := o.Exec.Execute(ctx, target, wpcli.Join(
		o.Commands.InstallTools(),
		o.Commands.TestArchive(b.ArchivePath),
	)); err != nil {
		fl.Error("integrity check failed: %v", err)
		return "", fmt.Errorf("%w: backup %d: %w", model.ErrCorruptArchive, b.ID, err)
	}

	// past the integrity check the restore runs to completion
	ctx = context.WithoutCancel(ctx)
	extractDir := o.Commands.ExtractDir(b.Name)
	defer o.removeArtifacts(ctx, inst, fl, extractDir)

	if _, err := o.Exec.Execute(ctx, target, wpcli.Join(
		o.Commands.Extract(b.ArchivePath, extractDir),
		o.Commands.ReplaceWebRoot(extractDir),
		o.Commands.RestoreSampleConfig(),
		o.Commands.Chown(o.Commands.WebRoot, o.Commands.BackupDir),
	)); err != nil {
		fl.Error("replacing web root failed: %v", err)
		return "", fmt.Errorf("restore files of backup %d: %w", b.ID, err)
	}
	if _, err := o.Exec.Execute(ctx, target, o.Commands.DBImport(b.DumpPath)); err != nil {
		fl.Error("database import failed: %v", err)
		return "", fmt.Errorf("import database of backup %d: %w", b.ID, err)
	}

	fl.Info("backup %s restored", b.Name)
	return fmt.Sprintf("backup %d (%s) restored into instance %d", b.ID, b.Name, inst.ID), nil
}
