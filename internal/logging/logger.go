package logging

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger writes structured entries to the console (zerolog) and, when a
// database is attached, to the sqlite logs table.
type Logger struct {
	db      *sql.DB
	console zerolog.Logger
	level   zerolog.Level
	mu      sync.Mutex
}

// LogEntry represents a single log entry
type LogEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	Flow       string    `json:"flow"`       // orchestration flow, e.g. "provision" or "backup.restore-archive"
	InstanceID int64     `json:"instanceId"` // wharf instance id
	BackupID   int64     `json:"backupId"`
}

// New creates a Logger using an existing database connection (may be nil for
// console-only logging). The caller is responsible for closing the database.
// level is parsed by zerolog; unknown values fall back to info.
func New(db *sql.DB, console io.Writer, level string) (*Logger, error) {
	if console == nil {
		console = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	l := &Logger{
		db:      db,
		console: zerolog.New(console).With().Timestamp().Logger().Level(lvl),
		level:   lvl,
	}
	return l, nil
}

// Nop returns a console-less, database-less logger for tests and tools
func Nop() *Logger {
	return &Logger{console: zerolog.Nop(), level: zerolog.Disabled}
}

// Log writes a log entry to both console and database
func (l *Logger) Log(level LogLevel, flow string, instanceID, backupID int64, format string, args ...any) {
	if level.zerolog() < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(format, args...)
	timestamp := time.Now().UTC()

	ev := l.console.WithLevel(level.zerolog())
	if flow != "" {
		ev = ev.Str("flow", flow)
	}
	if instanceID != 0 {
		ev = ev.Int64("instance", instanceID)
	}
	if backupID != 0 {
		ev = ev.Int64("backup", backupID)
	}
	ev.Msg(message)

	if l.db == nil {
		return
	}
	_, err := l.db.Exec(
		"INSERT INTO logs (timestamp, level, message, flow, instance_id, backup_id) VALUES (?, ?, ?, ?, ?, ?)",
		timestamp, string(level), message, nullString(flow), nullInt(instanceID), nullInt(backupID),
	)
	if err != nil {
		// If DB write fails, at least we have console output
		l.console.Error().Err(err).Msg("failed to write to log database")
	}
}

// Info logs an info-level message
func (l *Logger) Info(format string, args ...any) {
	l.Log(LevelInfo, "", 0, 0, format, args...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, args ...any) {
	l.Log(LevelWarn, "", 0, 0, format, args...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, args ...any) {
	l.Log(LevelError, "", 0, 0, format, args...)
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, args ...any) {
	l.Log(LevelDebug, "", 0, 0, format, args...)
}

// Logf matches the func(string, ...any) signature used by cron and goose adapters
func (l *Logger) Logf(format string, args ...any) {
	l.Info(format, args...)
}

// QueryOptions defines filters for querying logs
type QueryOptions struct {
	Flow       string
	InstanceID int64
	BackupID   int64
	Level      LogLevel
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Query retrieves log entries based on filters, newest first
func (l *Logger) Query(opts QueryOptions) ([]LogEntry, error) {
	if l.db == nil {
		return []LogEntry{}, nil
	}
	query := "SELECT id, timestamp, level, message, COALESCE(flow, ''), COALESCE(instance_id, 0), COALESCE(backup_id, 0) FROM logs WHERE 1=1"
	args := []any{}

	if opts.Flow != "" {
		query += " AND flow = ?"
		args = append(args, opts.Flow)
	}
	if opts.InstanceID != 0 {
		query += " AND instance_id = ?"
		args = append(args, opts.InstanceID)
	}
	if opts.BackupID != 0 {
		query += " AND backup_id = ?"
		args = append(args, opts.BackupID)
	}
	if opts.Level != "" {
		query += " AND level = ?"
		args = append(args, string(opts.Level))
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	entries := make([]LogEntry, 0)
	for rows.Next() {
		var e LogEntry
		var levelStr string
		if err := rows.Scan(&e.ID, &e.Timestamp, &levelStr, &e.Message, &e.Flow, &e.InstanceID, &e.BackupID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Level = LogLevel(levelStr)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// PruneOldLogs removes log entries older than the specified duration
func (l *Logger) PruneOldLogs(olderThan time.Duration) (int64, error) {
	if l.db == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := l.db.Exec("DELETE FROM logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	return result.RowsAffected()
}

// nullString returns a sql.NullString for use with nullable columns
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt returns a sql.NullInt64 for use with nullable columns
func nullInt(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}

// FlowLogger wraps a Logger with flow, instance and backup context
type FlowLogger struct {
	logger     *Logger
	flow       string
	instanceID int64
	backupID   int64
}

// Flow creates a FlowLogger for one orchestration flow against an instance
func (l *Logger) Flow(flow string, instanceID int64) *FlowLogger {
	return &FlowLogger{logger: l, flow: flow, instanceID: instanceID}
}

// WithBackup returns a copy carrying the backup id as well
func (fl *FlowLogger) WithBackup(backupID int64) *FlowLogger {
	c := *fl
	c.backupID = backupID
	return &c
}

// WithInstance returns a copy bound to another instance, used once a flow
// learns which instance a backup belongs to.
func (fl *FlowLogger) WithInstance(instanceID int64) *FlowLogger {
	c := *fl
	c.instanceID = instanceID
	return &c
}

func (fl *FlowLogger) Info(format string, args ...any) {
	fl.logger.Log(LevelInfo, fl.flow, fl.instanceID, fl.backupID, format, args...)
}

func (fl *FlowLogger) Warn(format string, args ...any) {
	fl.logger.Log(LevelWarn, fl.flow, fl.instanceID, fl.backupID, format, args...)
}

func (fl *FlowLogger) Error(format string, args ...any) {
	fl.logger.Log(LevelError, fl.flow, fl.instanceID, fl.backupID, format, args...)
}

func (fl *FlowLogger) Debug(format string, args ...any) {
	fl.logger.Log(LevelDebug, fl.flow, fl.instanceID, fl.backupID, format, args...)
}

// Logf provides compatibility with func(string, ...any) signature
func (fl *FlowLogger) Logf(format string, args ...any) {
	fl.Info(format, args...)
}
