// Package scheduler runs recurring backups and due deletion jobs. Recurrences
// and one-shot jobs live in the database, so a restart re-arms them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/polarfoxDev/wharf/internal/config"
	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
)

// Backups is the part of the backup orchestrator the scheduler drives
type Backups interface {
	CreatePodBackup(ctx context.Context, instanceID int64, t model.BackupType, note string) (*model.Backup, error)
	DeletePodBackup(ctx context.Context, backupID int64) error
}

type Scheduler struct {
	DB      *database.DB
	Backups Backups
	Log     *logging.Logger
	Cron    *cron.Cron
	Now     func() time.Time

	Retention   config.RetentionConfig
	DailyEvery  time.Duration
	PollEvery   time.Duration
	MaxAttempts int

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID // recurrence key -> cron entry
}

func New(cfg *config.Config, db *database.DB, backups Backups, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		DB:      db,
		Backups: backups,
		Log:     log,
		Cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		Retention:   cfg.Retention,
		DailyEvery:  cfg.Schedule.DailyEvery.Duration,
		PollEvery:   cfg.Schedule.PollEvery.Duration,
		MaxAttempts: cfg.Schedule.MaxAttempts,
		entries:     make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// jobCtx is the context cron callbacks run under
func (s *Scheduler) jobCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// interval returns the cadence of a recurring backup type
func interval(t model.BackupType) (time.Duration, error) {
	switch t {
	case model.BackupHourly:
		return time.Hour, nil
	case model.BackupSixHourly:
		return 6 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q backups do not recur per instance", model.ErrInvalidRequest, t)
}

func (s *Scheduler) keep(t model.BackupType) time.Duration {
	switch t {
	case model.BackupHourly:
		return s.Retention.HourlyKeep.Duration
	case model.BackupSixHourly:
		return s.Retention.SixHourlyKeep.Duration
	case model.BackupDaily:
		return s.Retention.DailyKeep.Duration
	}
	return 0
}

// Start registers the daily sweep and the job poller, re-arms persisted
// recurrences, runs overdue jobs once and starts cron.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	daily, err := helpers.EverySpec(s.DailyEvery)
	if err != nil {
		return fmt.Errorf("daily sweep: %w", err)
	}
	if _, err := s.Cron.AddFunc(daily, func() { s.SweepDaily(s.jobCtx()) }); err != nil {
		return fmt.Errorf("daily sweep: %w", err)
	}
	poll, err := helpers.EverySpec(s.PollEvery)
	if err != nil {
		return fmt.Errorf("job poller: %w", err)
	}
	if _, err := s.Cron.AddFunc(poll, func() { s.poll(s.jobCtx()) }); err != nil {
		return fmt.Errorf("job poller: %w", err)
	}

	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.poll(ctx)
	s.Cron.Start()
	s.Log.Info("scheduler started: daily sweep %s, poll %s", s.DailyEvery, s.PollEvery)
	return nil
}

// Stop cancels every timer and waits for running jobs or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.Cron.Stop()
	select {
	case <-done.Done():
		s.Log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.Log.Error("recurrence sync failed: %v", err)
	}
	if _, err := s.RunDue(ctx); err != nil {
		s.Log.Error("due jobs failed: %v", err)
	}
}

// ScheduleHourly captures an hourly backup of the instance every hour
func (s *Scheduler) ScheduleHourly(ctx context.Context, instanceID int64) error {
	return s.Schedule(ctx, instanceID, model.BackupHourly)
}

// ScheduleSixHourly captures a six-hourly backup of the instance every six hours
func (s *Scheduler) ScheduleSixHourly(ctx context.Context, instanceID int64) error {
	return s.Schedule(ctx, instanceID, model.BackupSixHourly)
}

// Schedule persists a recurrence and arms it. Scheduling an existing
// recurrence again is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, instanceID int64, t model.BackupType) error {
	if _, err := interval(t); err != nil {
		return err
	}
	if _, err := s.DB.GetInstance(ctx, instanceID); err != nil {
		return err
	}
	rec := &model.Recurrence{InstanceID: instanceID, Type: t}
	if err := s.DB.AddRecurrence(ctx, rec); err != nil {
		return err
	}
	return s.arm(*rec)
}

// Unschedule removes recurrences of an instance; an empty type removes all
func (s *Scheduler) Unschedule(ctx context.Context, instanceID int64, t model.BackupType) error {
	if _, err := s.DB.RemoveRecurrences(ctx, instanceID, t); err != nil {
		return err
	}
	for _, typ := range []model.BackupType{model.BackupHourly, model.BackupSixHourly} {
		if t == "" || t == typ {
			s.disarm(model.Recurrence{InstanceID: instanceID, Type: typ}.Key())
		}
	}
	return nil
}

func (s *Scheduler) arm(rec model.Recurrence) error {
	every, err := interval(rec.Type)
	if err != nil {
		return err
	}
	spec, err := helpers.EverySpec(every)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, ok := s.entries[key]; ok {
		return nil
	}
	id, err := s.Cron.AddFunc(spec, func() { s.tick(s.jobCtx(), rec) })
	if err != nil {
		return fmt.Errorf("arm %s: %w", key, err)
	}
	s.entries[key] = id
	s.Log.Flow("schedule", rec.InstanceID).Info("armed %s backups every %s", rec.Type, every)
	return nil
}

func (s *Scheduler) disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[key]; ok {
		s.Cron.Remove(id)
		delete(s.entries, key)
	}
}

// Armed returns the keys of the recurrences that currently have a timer
func (s *Scheduler) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Sync arms persisted recurrences that have no timer yet and drops timers
// whose recurrence was removed, e.g. by a CLI call or an instance teardown.
func (s *Scheduler) Sync(ctx context.Context) error {
	recs, err := s.DB.ListRecurrences(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(recs))
	for _, r := range recs {
		want[r.Key()] = true
		if err := s.arm(*r); err != nil {
			s.Log.Flow("schedule", r.InstanceID).Error("arm %s: %v", r.Key(), err)
		}
	}
	for _, key := range s.Armed() {
		if !want[key] {
			s.disarm(key)
		}
	}
	return nil
}

// tick captures one backup of a recurrence and arms the deletion of exactly
// that backup.
func (s *Scheduler) tick(ctx context.Context, rec model.Recurrence) {
	fl := s.Log.Flow("schedule", rec.InstanceID)
	b, err := s.Backups.CreatePodBackup(ctx, rec.InstanceID, rec.Type, "scheduled "+string(rec.Type))
	if err != nil {
		fl.Error("%s backup failed: %v", rec.Type, err)
		return
	}
	if _, err := s.ScheduleDeletion(ctx, b.ID, rec.InstanceID, b.CreatedAt.Add(s.keep(rec.Type))); err != nil {
		fl.WithBackup(b.ID).Error("arming deletion failed: %v", err)
	}
}

// ScheduleDeletion persists a one-shot deletion of a backup due at at
func (s *Scheduler) ScheduleDeletion(ctx context.Context, backupID, instanceID int64, at time.Time) (*model.ScheduledJob, error) {
	job := &model.ScheduledJob{Kind: model.JobDeleteBackup, BackupID: backupID, InstanceID: instanceID, DueAt: at}
	if err := s.DB.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SweepDaily captures a daily backup of every live instance. A failing
// instance is logged and skipped.
func (s *Scheduler) SweepDaily(ctx context.Context) {
	instances, err := s.DB.ListInstances(ctx)
	if err != nil {
		s.Log.Error("daily sweep: %v", err)
		return
	}
	ok := 0
	for _, inst := range instances {
		fl := s.Log.Flow("schedule", inst.ID)
		b, err := s.Backups.CreatePodBackup(ctx, inst.ID, model.BackupDaily, "scheduled daily")
		if err != nil {
			fl.Error("daily backup failed: %v", err)
			continue
		}
		if _, err := s.ScheduleDeletion(ctx, b.ID, inst.ID, b.CreatedAt.Add(s.keep(model.BackupDaily))); err != nil {
			fl.WithBackup(b.ID).Error("arming deletion failed: %v", err)
			continue
		}
		ok++
	}
	s.Log.Info("daily sweep: %d of %d instance(s) backed up", ok, len(instances))
}

// RunDue runs every pending job that is due. A backup that is already gone
// counts as done; other failures are retried on later polls until
// MaxAttempts is reached.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	jobs, err := s.DB.DueJobs(ctx, s.now())
	if err != nil {
		return 0, err
	}
	done := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		fl := s.Log.Flow("job", j.InstanceID).WithBackup(j.BackupID)

		var runErr error
		switch j.Kind {
		case model.JobDeleteBackup:
			runErr = s.Backups.DeletePodBackup(ctx, j.BackupID)
		default:
			runErr = fmt.Errorf("unknown job kind %q", j.Kind)
		}

		if runErr == nil || errors.Is(runErr, model.ErrNotFound) {
			if err := s.DB.CompleteJob(ctx, j.ID); err != nil {
				return done, err
			}
			metrics.ScheduledJobsTotal.WithLabelValues(string(j.Kind), string(model.JobDone)).Inc()
			done++
			continue
		}
		state, err := s.DB.FailJobAttempt(ctx, j.ID, runErr, s.MaxAttempts)
		if err != nil {
			return done, err
		}
		metrics.ScheduledJobsTotal.WithLabelValues(string(j.Kind), string(state)).Inc()
		fl.Warn("job %d failed (%s): %v", j.ID, state, runErr)
	}
	return done, nil
}
