package model

import (
	"strconv"
	"time"
)

type JobKind string

const (
	JobDeleteBackup JobKind = "delete-backup"
)

type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// ScheduledJob is a durable one-shot action, re-armed from the database after a restart
type ScheduledJob struct {
	ID         int64     `json:"id"`
	Kind       JobKind   `json:"kind"`
	BackupID   int64     `json:"backupId"`
	InstanceID int64     `json:"instanceId"`
	DueAt      time.Time `json:"dueAt"`
	State      JobState  `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Recurrence registers a periodic capture of one backup type for an instance
type Recurrence struct {
	InstanceID int64      `json:"instanceId"`
	Type       BackupType `json:"type"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Key identifies the recurrence inside the scheduler.
func (r Recurrence) Key() string {
	return string(r.Type) + ":" + strconv.FormatInt(r.InstanceID, 10)
}
