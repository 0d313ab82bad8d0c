package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/polarfoxDev/wharf/internal/model"
)

const jobColumns = `id, kind, backup_id, instance_id, due_at, state, attempts, last_error, created_at, updated_at`

func scanJob(row rowScanner) (*model.ScheduledJob, error) {
	j := &model.ScheduledJob{}
	err := row.Scan(&j.ID, &j.Kind, &j.BackupID, &j.InstanceID, &j.DueAt, &j.State, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// CreateJob persists a pending one-shot job
func (d *DB) CreateJob(ctx context.Context, j *model.ScheduledJob) error {
	now := time.Now().UTC()
	j.State = model.JobPending
	j.CreatedAt = now
	j.UpdatedAt = now
	j.DueAt = j.DueAt.UTC()

	res, err := d.db.ExecContext(ctx, `
	INSERT INTO scheduled_jobs (kind, backup_id, instance_id, due_at, state, attempts, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
	`, j.Kind, j.BackupID, j.InstanceID, j.DueAt, j.State, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	j.ID = id
	return nil
}

// GetJob retrieves a job by id
func (d *DB) GetJob(ctx context.Context, id int64) (*model.ScheduledJob, error) {
	j, err := scanJob(d.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return j, nil
}

// DueJobs returns pending jobs with due_at <= now, oldest due first
func (d *DB) DueJobs(ctx context.Context, now time.Time) ([]*model.ScheduledJob, error) {
	return d.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE state = ? AND due_at <= ? ORDER BY due_at ASC, id ASC`,
		model.JobPending, now.UTC())
}

// ListJobs returns the jobs of an instance (all instances when instanceID is 0), newest first
func (d *DB) ListJobs(ctx context.Context, instanceID int64) ([]*model.ScheduledJob, error) {
	if instanceID == 0 {
		return d.queryJobs(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY id DESC`)
	}
	return d.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE instance_id = ? ORDER BY id DESC`, instanceID)
}

func (d *DB) queryJobs(ctx context.Context, query string, args ...any) ([]*model.ScheduledJob, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ScheduledJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CompleteJob marks a job done
func (d *DB) CompleteJob(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET state = ?, updated_at = ? WHERE id = ?`, model.JobDone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return expectOne(res, "job", id)
}

// FailJobAttempt records a failed attempt. The job stays pending until it has
// used maxAttempts, then it is marked failed. Returns the resulting state.
func (d *DB) FailJobAttempt(ctx context.Context, id int64, cause error, maxAttempts int) (model.JobState, error) {
	j, err := d.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	j.Attempts++
	state := model.JobPending
	if j.Attempts >= maxAttempts {
		state = model.JobFailed
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = d.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET state = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		state, j.Attempts, msg, time.Now().UTC(), id)
	if err != nil {
		return "", fmt.Errorf("failed to record job attempt: %w", err)
	}
	return state, nil
}

// CancelInstanceJobs marks every pending job of an instance done without running it
func (d *DB) CancelInstanceJobs(ctx context.Context, instanceID int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET state = ?, last_error = 'cancelled', updated_at = ? WHERE instance_id = ? AND state = ?`,
		model.JobDone, time.Now().UTC(), instanceID, model.JobPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel instance jobs: %w", err)
	}
	return res.RowsAffected()
}

// AddRecurrence registers a periodic capture; adding an existing one is a no-op
func (d *DB) AddRecurrence(ctx context.Context, r *model.Recurrence) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO recurrences (instance_id, type, created_at) VALUES (?, ?, ?) ON CONFLICT(instance_id, type) DO NOTHING`,
		r.InstanceID, r.Type, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add recurrence: %w", err)
	}
	return nil
}

// RemoveRecurrences drops the recurrences of an instance; an empty type removes all of them
func (d *DB) RemoveRecurrences(ctx context.Context, instanceID int64, t model.BackupType) (int64, error) {
	query := `DELETE FROM recurrences WHERE instance_id = ?`
	args := []any{instanceID}
	if t != "" {
		query += ` AND type = ?`
		args = append(args, t)
	}
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove recurrences: %w", err)
	}
	return res.RowsAffected()
}

// ListRecurrences returns every registered recurrence
func (d *DB) ListRecurrences(ctx context.Context) ([]*model.Recurrence, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT instance_id, type, created_at FROM recurrences ORDER BY instance_id, type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurrences: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Recurrence, 0)
	for rows.Next() {
		r := &model.Recurrence{}
		if err := rows.Scan(&r.InstanceID, &r.Type, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recurrence: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
