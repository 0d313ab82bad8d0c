package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/model"
)

func newInstanceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Provision, list and tear down WordPress instances",
	}

	var req struct {
		Title         string `json:"title"`
		AdminUser     string `json:"adminUser"`
		AdminPassword string `json:"adminPassword"`
		AdminEmail    string `json:"adminEmail,omitempty"`
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.AdminPassword == "" {
				req.AdminPassword = envDefault("WHARF_ADMIN_PASSWORD", "")
			}
			var inst model.Instance
			if _, err := c.client().do(http.MethodPost, "/api/instances", req, &inst); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Instance %d is up at %s (WordPress %s, PHP %s)\n", inst.ID, inst.SiteURL, inst.WPVersion, inst.PHPVersion)
			return nil
		},
	}
	createCmd.Flags().StringVar(&req.Title, "title", "", "Site title")
	createCmd.Flags().StringVar(&req.AdminUser, "admin-user", "admin", "Administrator login")
	createCmd.Flags().StringVar(&req.AdminPassword, "admin-password", "", "Administrator password (default $WHARF_ADMIN_PASSWORD)")
	createCmd.Flags().StringVar(&req.AdminEmail, "admin-email", "", "Administrator email")
	createCmd.MarkFlagRequired("title")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List live instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []model.Instance
			if _, err := c.client().do(http.MethodGet, "/api/instances", nil, &list); err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tURL\tWORDPRESS\tPHP\tCREATED")
			for _, inst := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", inst.ID, helpers.TruncateString(inst.Title, 30), inst.SiteURL,
					inst.WPVersion, inst.PHPVersion, inst.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var inst model.Instance
			if _, err := c.client().do(http.MethodGet, fmt.Sprintf("/api/instances/%d", id), nil, &inst); err != nil {
				return err
			}
			return c.printJSON(inst)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Tear an instance down, removing its containers, volumes and backups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := c.client().do(http.MethodDelete, fmt.Sprintf("/api/instances/%d", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Instance %d deleted\n", id)
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Refresh plugins, themes, users and versions of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var inv map[string]any
			if _, err := c.client().do(http.MethodPost, fmt.Sprintf("/api/instances/%d/sync", id), nil, &inv); err != nil {
				return err
			}
			return c.printJSON(inv)
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, deleteCmd, syncCmd)
	return cmd
}

func newBackupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Capture, list, restore and delete backups",
	}

	var create struct {
		Type        string `json:"type,omitempty"`
		Destination string `json:"destination,omitempty"`
		Note        string `json:"note,omitempty"`
	}
	createCmd := &cobra.Command{
		Use:   "create <instance-id>",
		Short: "Capture a backup of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var res map[string]any
			status, err := c.client().do(http.MethodPost, fmt.Sprintf("/api/instances/%d/backups", id), create, &res, http.StatusConflict)
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				return fmt.Errorf("backup rejected: %v (%v of %v used)", res["reason"], res["used"], res["cap"])
			}
			return c.printJSON(res)
		},
	}
	createCmd.Flags().StringVar(&create.Type, "type", string(model.BackupManual), "manual, manual-limited, hourly, six-hourly or daily")
	createCmd.Flags().StringVar(&create.Destination, "destination", string(model.DestinationPod), "pod or archive")
	createCmd.Flags().StringVar(&create.Note, "note", "", "Free-form note stored with the backup")

	var (
		listType     string
		listInstance int64
		downloadable bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List live backups by instance, by type or those with download links",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case listInstance > 0:
				path = fmt.Sprintf("/api/instances/%d/backups", listInstance)
			case downloadable:
				path = "/api/backups?downloadable=true"
			case listType != "":
				path = "/api/backups?type=" + url.QueryEscape(listType)
			default:
				return fmt.Errorf("one of --instance, --type or --downloadable is required")
			}
			var list []model.Backup
			if _, err := c.client().do(http.MethodGet, path, nil, &list); err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tINSTANCE\tNAME\tTYPE\tDESTINATION\tCREATED\tEXPIRES\tNOTE")
			for _, b := range list {
				expires := "-"
				if b.ExpiresAt != nil {
					expires = b.ExpiresAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.InstanceID, b.Name, b.Type, b.Destination,
					b.CreatedAt.Format("2006-01-02 15:04"), expires, helpers.TruncateString(b.Note, 40))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by backup type")
	listCmd.Flags().Int64Var(&listInstance, "instance", 0, "Filter by instance id")
	listCmd.Flags().BoolVar(&downloadable, "downloadable", false, "Only archive backups with download links")

	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup onto its instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var res struct {
				Message string `json:"message"`
			}
			if _, err := c.client().do(http.MethodPost, fmt.Sprintf("/api/backups/%d/restore", id), nil, &res); err != nil {
				return err
			}
			fmt.Fprintln(c.out, res.Message)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := c.client().do(http.MethodDelete, fmt.Sprintf("/api/backups/%d", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Backup %d deleted\n", id)
			return nil
		},
	}

	percentCmd := &cobra.Command{
		Use:   "percent <instance-id>",
		Short: "Show how much of the manual-limited quota an instance uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var res struct {
				Percent int `json:"percent"`
			}
			if _, err := c.client().do(http.MethodGet, fmt.Sprintf("/api/instances/%d/backups/percent", id), nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d%%\n", res.Percent)
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, restoreCmd, deleteCmd, percentCmd)
	return cmd
}

func newScheduleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring per-instance backups",
	}

	schedule := func(use, short string, t model.BackupType) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <instance-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				body := map[string]string{"type": string(t)}
				if _, err := c.client().do(http.MethodPost, fmt.Sprintf("/api/instances/%d/schedules", id), body, nil); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Instance %d now gets %s backups\n", id, t)
				return nil
			},
		}
	}

	var removeType string
	removeCmd := &cobra.Command{
		Use:   "remove <instance-id>",
		Short: "Stop recurring backups of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := c.client().do(http.MethodDelete, fmt.Sprintf("/api/instances/%d/schedules/%s", id, url.PathEscape(removeType)), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Removed %s schedule of instance %d\n", removeType, id)
			return nil
		},
	}
	removeCmd.Flags().StringVar(&removeType, "type", string(model.BackupHourly), "hourly or six-hourly")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List armed recurrences",
		RunE: func(cmd *cobra.Command, args []string) error {
			var keys []string
			if _, err := c.client().do(http.MethodGet, "/api/schedules", nil, &keys); err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(c.out, k)
			}
			return nil
		},
	}

	cmd.AddCommand(
		schedule("hourly", "Capture an hourly backup of the instance every hour", model.BackupHourly),
		schedule("six-hourly", "Capture a backup of the instance every six hours", model.BackupSixHourly),
		removeCmd,
		listCmd,
	)
	return cmd
}

func newSiteCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Administer a running WordPress site",
	}

	maintenanceCmd := &cobra.Command{
		Use:       "maintenance <instance-id> on|off",
		Short:     "Toggle maintenance mode",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			on := helpers.ParseBool(args[1]) || args[1] == "on"
			body := map[string]bool{"enabled": on}
			if _, err := c.client().do(http.MethodPut, fmt.Sprintf("/api/instances/%d/maintenance", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Maintenance mode of instance %d: %v\n", id, on)
			return nil
		},
	}

	var dryRun bool
	searchReplaceCmd := &cobra.Command{
		Use:   "search-replace <instance-id> <from> <to>",
		Short: "Rewrite a string across all tables, e.g. after a domain change",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"from": args[1], "to": args[2], "dryRun": dryRun}
			var res struct {
				Replacements int `json:"replacements"`
			}
			if _, err := c.client().do(http.MethodPost, fmt.Sprintf("/api/instances/%d/search-replace", id), body, &res); err != nil {
				return err
			}
			verb := "Replaced"
			if dryRun {
				verb = "Would replace"
			}
			fmt.Fprintf(c.out, "%s %d occurrences\n", verb, res.Replacements)
			return nil
		},
	}
	searchReplaceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count replacements without writing")

	pluginCmd := &cobra.Command{
		Use:   "plugin <instance-id> install|activate|deactivate|update|delete <name>",
		Short: "Change the state of one plugin",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/instances/%d/plugins/%s/%s", id, url.PathEscape(args[2]), url.PathEscape(args[1]))
			var plugins []model.Plugin
			if _, err := c.client().do(http.MethodPost, path, nil, &plugins); err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PLUGIN\tSTATUS\tVERSION\tUPDATE")
			for _, p := range plugins {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Status, p.Version, p.Update)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(maintenanceCmd, searchReplaceCmd, pluginCmd)
	return cmd
}
