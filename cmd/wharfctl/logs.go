package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/logging"
)

// newLogsCmd reads the flow logs straight from the wharfd database, so it
// also works while the daemon is down.
func newLogsCmd(c *cli) *cobra.Command {
	var (
		dbPath     string
		flow       string
		instanceID int64
		backupID   int64
		level      string
		since      string
		until      string
		limit      int
		prune      string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query or prune the flow logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.InitDB(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			logger, err := logging.New(db.GetDB(), os.Stderr, "info")
			if err != nil {
				return err
			}

			// Handle pruning if requested
			if prune != "" {
				duration, err := helpers.ParseDuration(prune)
				if err != nil {
					return fmt.Errorf("invalid duration format: %w", err)
				}
				deleted, err := logger.PruneOldLogs(duration)
				if err != nil {
					return fmt.Errorf("prune logs: %w", err)
				}
				fmt.Fprintf(c.out, "Pruned %d log entries older than %v\n", deleted, duration)
				return nil
			}

			opts := logging.QueryOptions{
				Flow:       flow,
				InstanceID: instanceID,
				BackupID:   backupID,
				Level:      logging.LogLevel(strings.ToUpper(level)),
				Limit:      limit,
			}
			if since != "" {
				if opts.Since, err = parseTime(since); err != nil {
					return fmt.Errorf("invalid since: %w", err)
				}
			}
			if until != "" {
				if opts.Until, err = parseTime(until); err != nil {
					return fmt.Errorf("invalid until: %w", err)
				}
			}

			entries, err := logger.Query(opts)
			if err != nil {
				return fmt.Errorf("query logs: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(c.out, "No logs found matching criteria")
				return nil
			}

			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tLEVEL\tFLOW\tINSTANCE\tBACKUP\tMESSAGE")
			fmt.Fprintln(w, "─────────\t─────\t────\t────────\t──────\t───────")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					entry.Timestamp.Local().Format("2006-01-02 15:04:05"),
					entry.Level,
					dash(entry.Flow),
					idOrDash(entry.InstanceID),
					idOrDash(entry.BackupID),
					helpers.TruncateString(entry.Message, 80),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "\nShowing %d results\n", len(entries))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dbPath, "db", envDefault("WHARF_DB", "/var/lib/wharf/wharf.db"), "Path to the wharf database")
	f.StringVar(&flow, "flow", "", "Filter by flow (provision, teardown, backup.pod, backup.archive, restore.archive, ...)")
	f.Int64Var(&instanceID, "instance", 0, "Filter by instance ID")
	f.Int64Var(&backupID, "backup", 0, "Filter by backup ID")
	f.StringVar(&level, "level", "", "Filter by log level (DEBUG, INFO, WARN, ERROR)")
	f.StringVar(&since, "since", "", "Logs since a time (RFC3339) or a duration ago (e.g. 2h, 3d)")
	f.StringVar(&until, "until", "", "Logs until a time (RFC3339) or a duration ago")
	f.IntVar(&limit, "limit", 100, "Maximum number of logs to return")
	f.StringVar(&prune, "prune", "", "Prune logs older than duration (e.g. '30d')")
	return cmd
}

// parseTime accepts RFC3339 or a duration counted back from now
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := helpers.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	return time.Now().Add(-d), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func idOrDash(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}
