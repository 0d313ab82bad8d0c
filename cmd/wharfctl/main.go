// wharfctl drives a running wharfd over its HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type cli struct {
	server string
	token  string
	out    io.Writer
}

func (c *cli) client() *client {
	return newClient(c.server, c.token)
}

// printJSON writes v indented, for results without a table layout
func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:   "wharfctl",
		Short: "Manage WordPress instances and their backups through wharfd",
		Long: `wharfctl provisions and tears down WordPress instances, captures and
restores backups, manages recurring schedules and queries the flow logs.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&c.server, "server", envDefault("WHARF_SERVER", "http://localhost:8080"), "wharfd API base URL")
	rootCmd.PersistentFlags().StringVar(&c.token, "token", os.Getenv("WHARF_TOKEN"), "API token (default $WHARF_TOKEN)")

	rootCmd.AddCommand(
		newInstanceCmd(c),
		newBackupCmd(c),
		newScheduleCmd(c),
		newSiteCmd(c),
		newLogsCmd(c),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func envDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
