package model

import (
	"fmt"
	"time"
)

type BackupType string

const (
	BackupManual        BackupType = "manual"
	BackupManualLimited BackupType = "manual-limited"
	BackupHourly        BackupType = "hourly"
	BackupSixHourly     BackupType = "six-hourly"
	BackupDaily         BackupType = "daily"
)

// Valid reports whether t is one of the known backup types.
func (t BackupType) Valid() bool {
	switch t {
	case BackupManual, BackupManualLimited, BackupHourly, BackupSixHourly, BackupDaily:
		return true
	}
	return false
}

// Scheduled reports whether backups of this type are created by the scheduler
// and therefore expire on their own.
func (t BackupType) Scheduled() bool {
	return t == BackupHourly || t == BackupSixHourly || t == BackupDaily
}

type Destination string

const (
	DestinationPod     Destination = "pod"
	DestinationArchive Destination = "archive"
)

// Instance is one provisioned WordPress + database pair
type Instance struct {
	ID                int64      `json:"id"`
	Token             string     `json:"token"`     // random token the compose project and containers are named after
	Namespace         string     `json:"namespace"` // compose project (docker) or namespace (kubernetes)
	AppContainer      string     `json:"appContainer"`
	DBContainer       string     `json:"dbContainer"`
	Port              int        `json:"port"`
	SiteURL           string     `json:"siteUrl"`
	Title             string     `json:"title"`
	AdminUser         string     `json:"adminUser"`
	AdminEmail        string     `json:"adminEmail"`
	AdminPasswordHash string     `json:"-"`
	WPVersion         string     `json:"wpVersion"`
	PHPVersion        string     `json:"phpVersion"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
}

// Live reports whether the instance has not been torn down.
func (i *Instance) Live() bool { return i.DeletedAt == nil }

// Backup is one captured snapshot (database dump + web root archive) of an instance
type Backup struct {
	ID          int64       `json:"id"`
	InstanceID  int64       `json:"instanceId"`
	Name        string      `json:"name"`
	Type        BackupType  `json:"type"`
	Destination Destination `json:"destination"`

	// pod-local locators (paths inside the application container)
	ArchivePath string `json:"archivePath,omitempty"`
	DumpPath    string `json:"dumpPath,omitempty"`

	// archive-store locators
	Bucket     string `json:"bucket,omitempty"`
	ArchiveKey string `json:"archiveKey,omitempty"`
	DumpKey    string `json:"dumpKey,omitempty"`
	ArchiveURL string `json:"archiveUrl,omitempty"`
	DumpURL    string `json:"dumpUrl,omitempty"`

	Note      string          `json:"note"`
	Plugins   []InventoryItem `json:"plugins"`
	Themes    []InventoryItem `json:"themes"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty"`
}

// Validate checks that the locators match the destination.
func (b *Backup) Validate() error {
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown backup type %q", ErrInvalidBackup, b.Type)
	}
	switch b.Destination {
	case DestinationPod:
		if b.ArchivePath == "" || b.DumpPath == "" {
			return fmt.Errorf("%w: pod backup needs archive and dump paths", ErrInvalidBackup)
		}
		if b.ArchiveKey != "" || b.DumpKey != "" {
			return fmt.Errorf("%w: pod backup must not carry archive-store keys", ErrInvalidBackup)
		}
	case DestinationArchive:
		if !b.HasArchiveLocators() {
			return fmt.Errorf("%w: archive backup needs archive and dump keys", ErrInvalidBackup)
		}
		if b.ArchivePath != "" || b.DumpPath != "" {
			return fmt.Errorf("%w: archive backup must not carry pod paths", ErrInvalidBackup)
		}
	default:
		return fmt.Errorf("%w: unknown destination %q", ErrInvalidBackup, b.Destination)
	}
	return nil
}

// HasArchiveLocators reports whether both artifacts can be fetched from the archive store.
func (b *Backup) HasArchiveLocators() bool {
	return b.ArchiveKey != "" && b.DumpKey != "" && b.ArchiveURL != "" && b.DumpURL != ""
}

// HasPodLocators reports whether both artifacts live in the application container.
func (b *Backup) HasPodLocators() bool {
	return b.Destination == DestinationPod && b.ArchivePath != "" && b.DumpPath != ""
}
